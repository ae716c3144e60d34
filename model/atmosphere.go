package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringList 自定义类型用于 GORM JSON 字段的自动扫描
type StringList []string

// Scan 实现 sql.Scanner 接口
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value 实现 driver.Valuer 接口
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Atmosphere 氛围：一组同时播放的声音图层
type Atmosphere struct {
	ID                 int64      `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	Name               string     `json:"name" gorm:"size:255;not null;index"`
	Title              string     `json:"title" gorm:"size:255"`
	Description        string     `json:"description" gorm:"type:text"`
	Category           string     `json:"category" gorm:"size:100;index"`
	Subcategory        string     `json:"subcategory" gorm:"size:100"`
	Subsubcategory     *string    `json:"subsubcategory,omitempty" gorm:"size:100"`
	Keywords           StringList `json:"keywords" gorm:"type:json"`
	BackgroundImage    *string    `json:"backgroundImage,omitempty" gorm:"size:767"`
	AuthorImage        *string    `json:"authorImage,omitempty" gorm:"size:255"`
	IsPublic           bool       `json:"isPublic" gorm:"default:false"`
	Theme              *string    `json:"theme,omitempty" gorm:"size:50"`
	DefaultCrossfadeMs int64      `json:"defaultCrossfadeMs" gorm:"default:2500"`
	FadeCurve          string     `json:"fadeCurve" gorm:"size:20;default:'linear'"` // linear, equal_power, exp
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (Atmosphere) TableName() string {
	return "atmospheres"
}

// AtmosphereSound 氛围成员：某个音频文件在氛围中的播放参数
type AtmosphereSound struct {
	ID           int64     `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	AtmosphereID int64     `json:"atmosphereId" gorm:"not null;uniqueIndex:uq_atmosphere_audio;index"`
	AudioFileID  int64     `json:"audioFileId" gorm:"not null;uniqueIndex:uq_atmosphere_audio;index"`
	Volume       float64   `json:"volume" gorm:"default:0.5"`
	IsLooping    bool      `json:"isLooping" gorm:"default:false"`
	IsMuted      bool      `json:"isMuted" gorm:"default:false"`
	MinSeconds   int       `json:"minSeconds" gorm:"default:0"` // 随机间隔下限（秒），0 表示关闭
	MaxSeconds   int       `json:"maxSeconds" gorm:"default:0"` // 随机间隔上限（秒），0 表示关闭
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName 指定表名
func (AtmosphereSound) TableName() string {
	return "atmosphere_sounds"
}

// AtmosphereCategory 氛围分类（支持父子层级）
type AtmosphereCategory struct {
	ID           int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name         string `json:"name" gorm:"size:100;not null"`
	ParentID     *int64 `json:"parentId,omitempty" gorm:"index"`
	DisplayOrder int    `json:"-" gorm:"default:0"`
}

// TableName 指定表名
func (AtmosphereCategory) TableName() string {
	return "atmosphere_categories"
}

// ========== 非持久化结构（服务层和 API 使用） ==========

// AtmosphereWithSounds 氛围详情：元数据 + 成员列表 + 已解析的音频文件
type AtmosphereWithSounds struct {
	Atmosphere Atmosphere        `json:"atmosphere"`
	Sounds     []AtmosphereSound `json:"sounds"`
	AudioFiles []AudioFile       `json:"audioFiles"`
}

// AtmosphereSavePayload 保存请求：ID 为 0 时创建
type AtmosphereSavePayload struct {
	Atmosphere
	Sounds []AtmosphereSound `json:"sounds"`
}

// AtmosphereIntegrity 成员中引用但已不存在的音频文件
type AtmosphereIntegrity struct {
	AtmosphereID int64   `json:"atmosphereId"`
	MissingIDs   []int64 `json:"missingIds"`
}

// AtmosphereSummary 列表展示用，附带成员数和缺失数
type AtmosphereSummary struct {
	Atmosphere
	SoundsCount  int     `json:"soundsCount"`
	MissingCount int     `json:"missingCount"`
	MissingIDs   []int64 `json:"missingIds,omitempty"`
}

// AtmosphereSearch 搜索条件
type AtmosphereSearch struct {
	Query    string   `json:"query"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// ========== 常量定义 ==========

const (
	// 淡入淡出曲线
	FadeCurveLinear     = "linear"
	FadeCurveEqualPower = "equal_power"
	FadeCurveExp        = "exp"

	DefaultCrossfadeMs = 2500

	// 新成员的默认参数
	DefaultMemberVolume = 0.5

	// 随机间隔上限（秒）
	MaxDelaySeconds = 60
)

// NewEmptyAtmosphere 新建空氛围的默认元数据
func NewEmptyAtmosphere() Atmosphere {
	theme := "default"
	return Atmosphere{
		Name:               "New Atmosphere",
		Title:              "New Atmosphere",
		Keywords:           StringList{},
		Theme:              &theme,
		DefaultCrossfadeMs: DefaultCrossfadeMs,
		FadeCurve:          FadeCurveLinear,
	}
}

// IsValidFadeCurve 检查曲线名称是否受支持
func IsValidFadeCurve(curve string) bool {
	switch curve {
	case FadeCurveLinear, FadeCurveEqualPower, FadeCurveExp:
		return true
	}
	return false
}
