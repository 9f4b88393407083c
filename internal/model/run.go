package model

import (
	"time"
)

// RunRecord 一次批量运行
type RunRecord struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Workflows string    `json:"workflows" gorm:"type:varchar(64);not null"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null;default:'success'"`
	Devices   int       `json:"devices"`
	Failed    int       `json:"failed"`
	StartTime time.Time `json:"start_time" gorm:"index"`
	EndTime   time.Time `json:"end_time"`
	Duration  int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	DeviceRecords []DeviceRecord `json:"device_records,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName 表名
func (RunRecord) TableName() string {
	return "runs"
}

// 运行与设备状态
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusPartial = "partial"
)

// DeviceRecord 单台设备在一次运行中的结果
type DeviceRecord struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID            string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Host             string    `json:"host" gorm:"type:varchar(255);not null;index"`
	Platform         string    `json:"platform" gorm:"type:varchar(32)"`
	Status           string    `json:"status" gorm:"type:varchar(16);not null"`
	Error            string    `json:"error" gorm:"type:text"`
	CredentialErrors string    `json:"credential_errors" gorm:"type:text"`
	Commands         int       `json:"commands"`
	Artifacts        string    `json:"artifacts" gorm:"type:text"` // JSON 数组
	Duration         int64     `json:"duration"`                   // 毫秒
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (DeviceRecord) TableName() string {
	return "run_devices"
}
