package smartcut

import (
	"github.com/ixugo/goddd/pkg/orm"
)

// 工程状态
const (
	StatusEditing   = "editing"
	StatusComposing = "composing"
	StatusDone      = "done"
	StatusFailed    = "failed"
)

// SourceRef 工程引用的源文件
type SourceRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Cut 一段剪辑，帧序号为显示顺序，闭区间
type Cut struct {
	SourceID string `json:"source_id"`
	In       int    `json:"in"`
	Out      int    `json:"out"`
}

// Project 剪辑工程，源文件与剪辑列表以 JSON 存储
type Project struct {
	ID        string      `gorm:"primaryKey" json:"id"`
	Name      string      `gorm:"column:name" json:"name"`
	Sources   []SourceRef `gorm:"column:sources;serializer:json" json:"sources"`
	Cuts      []Cut       `gorm:"column:cuts;serializer:json" json:"cuts"`
	Status    string      `gorm:"column:status" json:"status"`
	Error     string      `gorm:"column:error" json:"error"`
	CreatedAt orm.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt orm.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (*Project) TableName() string {
	return "smartcut_projects"
}

// Output 一次合成的产物
type Output struct {
	ID         int64    `gorm:"primaryKey" json:"id"`
	ProjectID  string   `gorm:"column:project_id;index" json:"project_id"`
	Path       string   `gorm:"column:path" json:"path"`
	Size       int64    `gorm:"column:size" json:"size"`
	Duration   float64  `gorm:"column:duration" json:"duration"` // 秒
	Frames     int      `gorm:"column:frames" json:"frames"`
	Transcoded int      `gorm:"column:transcoded" json:"transcoded"`
	Remuxed    int      `gorm:"column:remuxed" json:"remuxed"`
	CreatedAt  orm.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (*Output) TableName() string {
	return "smartcut_outputs"
}
