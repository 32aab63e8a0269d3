// Package ffwork 通过 ffmpeg 子进程完成 H.264 的解码与编码
// 数据经管道传递，像素格式固定为 yuv420p
package ffwork

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

type Config struct {
	// FFmpegBin ffmpeg 可执行文件，默认在 PATH 中查找
	FFmpegBin string
	// TempDir 编码输出的临时文件目录
	TempDir string
	Threads int
	HWAccel string
}

func (c Config) bin() string {
	if c.FFmpegBin == "" {
		return "ffmpeg"
	}
	return c.FFmpegBin
}

// Available 判断 ffmpeg 是否可以执行
func Available(bin string) bool {
	if bin == "" {
		bin = "ffmpeg"
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

// HasEncoder 判断 ffmpeg 是否编译了指定编码器
func HasEncoder(bin, name string) bool {
	if !Available(bin) {
		return false
	}
	if bin == "" {
		bin = "ffmpeg"
	}
	out, err := exec.Command(bin, "-hide_banner", "-encoders").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), " "+name+" ")
}

// process 一个 ffmpeg 子进程，stderr 最近 100 行保存在环形队列中
type process struct {
	name      string
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	ffmpegLog *queue.CirQueue[string]
	wg        sync.WaitGroup

	m       sync.Mutex
	started bool
	waited  bool
	waitErr error
}

func newProcess(name, bin string, args []string) *process {
	ctx, cancel := context.WithCancel(context.Background())
	return &process{
		name:      name,
		cmd:       exec.CommandContext(ctx, bin, args...),
		cancel:    cancel,
		ffmpegLog: queue.NewCirQueue[string](100),
	}
}

func baseArgs(threads int) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}
	if threads > 0 {
		args = append(args, "-threads", fmt.Sprint(threads))
	}
	return args
}

// start 启动进程，按需建立 stdin/stdout 管道
func (p *process) start(withStdin, withStdout bool) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.started {
		return fmt.Errorf("%s already started", p.name)
	}

	var err error
	if withStdin {
		if p.stdin, err = p.cmd.StdinPipe(); err != nil {
			return fmt.Errorf("failed to get stdin pipe: %w", err)
		}
	}
	if withStdout {
		if p.stdout, err = p.cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("failed to get stdout pipe: %w", err)
		}
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	p.started = true
	p.wg.Go(func() { p.readStderr(stderr) })
	return nil
}

// readStderr 读取 ffmpeg 的 stderr 输出用于日志记录
// ffmpeg 的警告和错误信息都会输出到 stderr
func (p *process) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		p.ffmpegLog.Push(scan.Text())
	}
}

// wait 等待进程退出，stdout 需要先读完
func (p *process) wait() error {
	p.m.Lock()
	defer p.m.Unlock()
	if !p.started {
		return nil
	}
	if p.waited {
		return p.waitErr
	}
	p.wg.Wait()
	err := p.cmd.Wait()
	p.waited = true
	if err != nil {
		p.waitErr = p.wrap(err)
	}
	return p.waitErr
}

// stop 结束进程，5 秒内没有退出时强制 kill
func (p *process) stop() error {
	p.m.Lock()
	started, waited := p.started, p.waited
	p.m.Unlock()
	if !started || waited {
		p.cancel()
		return nil
	}

	p.cancel()
	done := make(chan error, 1)
	go func() { done <- p.wait() }()
	select {
	case <-time.After(5 * time.Second):
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill ffmpeg: %w", err)
		}
		<-done
	case <-done:
	}
	return nil
}

// wrap 在错误中附带 ffmpeg 最后几行输出
func (p *process) wrap(err error) error {
	lines := p.Log()
	if n := len(lines); n > 5 {
		lines = lines[n-5:]
	}
	if len(lines) == 0 {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return fmt.Errorf("%s: %w: %s", p.name, err, strings.Join(lines, "; "))
}

func (p *process) Log() []string {
	return p.ffmpegLog.Range()
}

// isPipeClosed 进程提前退出时写管道返回的错误
func isPipeClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "file already closed")
}
