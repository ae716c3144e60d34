package model

import "time"

// AudioFile 音频库中的文件（只读引用，导入和标签管理不在本服务内）
type AudioFile struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	FilePath  string    `json:"filePath" gorm:"size:767;not null;uniqueIndex"`
	Title     string    `json:"title" gorm:"size:255"`
	Artist    string    `json:"artist" gorm:"size:255"`
	Duration  float64   `json:"duration"` // 秒，未知时为 0
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (AudioFile) TableName() string {
	return "audio_files"
}
