package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/smartcut/internal/core/smartcut"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// SmartcutAPI 为 http 提供业务方法
type SmartcutAPI struct {
	core smartcut.Core
}

func NewSmartcutAPI(core smartcut.Core) SmartcutAPI {
	return SmartcutAPI{core: core}
}

func RegisterSmartcut(g gin.IRouter, api SmartcutAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/projects", handler...)
	group.GET("", web.WrapH(api.findProjects))
	group.POST("", web.WrapH(api.addProject))
	group.GET("/:id", web.WrapH(api.getProject))
	group.DELETE("/:id", web.WrapH(api.delProject))

	group.GET("/:id/sources", web.WrapH(api.findSources))
	group.POST("/:id/sources", web.WrapH(api.addSource))
	group.GET("/:id/sources/:sid/index", web.WrapH(api.getSourceIndex))
	group.GET("/:id/sources/:sid/frames/:index", api.getFrame)

	group.POST("/:id/cuts", web.WrapH(api.addCut))
	group.DELETE("/:id/cuts/:pos", web.WrapH(api.delCut))
	group.GET("/:id/plan", web.WrapH(api.getPlan))
	// 合成进度通过 SSE 返回
	group.POST("/:id/compose", api.compose)

	group.GET("/:id/outputs", web.WrapH(api.findOutputs))
	// HLS 播放列表，按合成时间串联所有合成文件
	group.GET("/:id/outputs/index.m3u8", api.outputsPlaylist)
	group.GET("/:id/outputs/:oid/download", api.downloadOutput)
}

// RegisterOutputFiles 静态文件服务，用于播放合成文件
// Gin Static 支持 HTTP Range 请求，实现边下载边播放
func RegisterOutputFiles(g gin.IRouter, api SmartcutAPI) {
	dir := api.core.OutputDir()
	slog.Info("注册合成文件静态服务", "path", "/static/outputs", "dir", dir)
	g.Static("/static/outputs", dir)
}

func (a SmartcutAPI) findProjects(c *gin.Context, in *smartcut.FindProjectInput) (any, error) {
	items, total, err := a.core.FindProjects(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a SmartcutAPI) getProject(c *gin.Context, _ *struct{}) (*smartcut.Project, error) {
	return a.core.GetProject(c.Request.Context(), c.Param("id"))
}

func (a SmartcutAPI) addProject(c *gin.Context, in *smartcut.AddProjectInput) (*smartcut.Project, error) {
	return a.core.AddProject(c.Request.Context(), in)
}

func (a SmartcutAPI) delProject(c *gin.Context, _ *struct{}) (*smartcut.Project, error) {
	return a.core.DelProject(c.Request.Context(), c.Param("id"))
}

func (a SmartcutAPI) findSources(c *gin.Context, _ *struct{}) (any, error) {
	items, err := a.core.FindSources(c.Request.Context(), c.Param("id"))
	return gin.H{"items": items}, err
}

func (a SmartcutAPI) addSource(c *gin.Context, in *smartcut.AddSourceInput) (*smartcut.SourceOutput, error) {
	return a.core.AddSource(c.Request.Context(), c.Param("id"), in)
}

func (a SmartcutAPI) getSourceIndex(c *gin.Context, _ *struct{}) (*smartcut.IndexOutput, error) {
	return a.core.GetSourceIndex(c.Request.Context(), c.Param("id"), c.Param("sid"))
}

// getFrame 解码指定帧，返回 JPEG 图片
func (a SmartcutAPI) getFrame(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.SetMsg("index 必须是整数"))
		return
	}
	frame, err := a.core.ExtractFrame(c.Request.Context(), c.Param("id"), c.Param("sid"), index)
	if err != nil {
		web.Fail(c, err)
		return
	}
	quality, _ := strconv.Atoi(c.DefaultQuery("quality", "85"))
	b, err := encodeJPEG(frame, quality)
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg(err.Error()))
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Frame-PTS", strconv.FormatInt(frame.PTS, 10))
	c.Header("X-Frame-Type", frame.Picture.String())
	c.Data(http.StatusOK, "image/jpeg", b)
}

func (a SmartcutAPI) addCut(c *gin.Context, in *smartcut.AddCutInput) (*smartcut.Project, error) {
	return a.core.AddCut(c.Request.Context(), c.Param("id"), in)
}

func (a SmartcutAPI) delCut(c *gin.Context, _ *struct{}) (*smartcut.Project, error) {
	pos, err := strconv.Atoi(c.Param("pos"))
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg("pos 必须是整数")
	}
	return a.core.DelCut(c.Request.Context(), c.Param("id"), pos)
}

func (a SmartcutAPI) getPlan(c *gin.Context, _ *struct{}) (any, error) {
	plans, err := a.core.PlanProject(c.Request.Context(), c.Param("id"))
	return gin.H{"items": plans}, err
}

// compose 执行合成
// 通过 SSE 返回进度，合成结束后返回合成记录
func (a SmartcutAPI) compose(c *gin.Context) {
	var in smartcut.ComposeInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			web.Fail(c, reason.ErrBadRequest.SetMsg(err.Error()))
			return
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "不支持 SSE"})
		return
	}
	// 合成耗时不确定，取消写超时
	rc := http.NewResponseController(c.Writer)
	_ = rc.SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	sendEvent := func(event string, data any) {
		b, _ := json.Marshal(data)
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	id := c.Param("id")
	sendEvent("start", gin.H{"msg": "开始合成", "project_id": id})
	out, err := a.core.ComposeProject(c.Request.Context(), id, &in, func(e smartcut.ComposeEvent) {
		sendEvent("progress", e)
	})
	if err != nil {
		sendEvent("error", gin.H{"msg": err.Error()})
		return
	}
	sendEvent("complete", out)
}

func (a SmartcutAPI) findOutputs(c *gin.Context, _ *struct{}) (any, error) {
	items, err := a.core.FindOutputs(c.Request.Context(), c.Param("id"))
	return gin.H{"items": items}, err
}

// outputsPlaylist 生成 HLS m3u8 播放列表
// 路径: /projects/:id/outputs/index.m3u8
func (a SmartcutAPI) outputsPlaylist(c *gin.Context) {
	content, err := a.core.OutputsPlaylist(c.Request.Context(), c.Param("id"), func(o *smartcut.Output) string {
		// 使用相对路径，让浏览器相对于当前域名访问
		return "/static/outputs/" + filepath.Base(o.Path)
	})
	if err != nil {
		web.Fail(c, err)
		return
	}
	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache")
	c.String(http.StatusOK, content)
}

// downloadOutput 下载合成文件
func (a SmartcutAPI) downloadOutput(c *gin.Context) {
	oid, err := strconv.ParseInt(c.Param("oid"), 10, 64)
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.SetMsg("invalid output id"))
		return
	}
	out, err := a.core.GetOutput(c.Request.Context(), c.Param("id"), oid)
	if err != nil {
		web.Fail(c, err)
		return
	}
	if _, err := os.Stat(out.Path); os.IsNotExist(err) {
		web.Fail(c, reason.ErrNotFound.SetMsg("合成文件不存在"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(out.Path)))
	c.File(out.Path)
}
