package repository

import (
	"context"
	"errors"

	"AtmoMix/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AudioFileRepository 音频文件只读访问（导入由外部完成）
type AudioFileRepository interface {
	GetByID(ctx context.Context, id int64) (*model.AudioFile, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.AudioFile, error)
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)

	// Register 按路径登记，已存在时更新标题等信息
	Register(ctx context.Context, file *model.AudioFile) error
}

// gormAudioFileRepository GORM 实现
type gormAudioFileRepository struct {
	db *gorm.DB
}

// NewGormAudioFileRepository 创建 GORM 音频文件仓库
func NewGormAudioFileRepository(db *gorm.DB) AudioFileRepository {
	return &gormAudioFileRepository{db: db}
}

// GetByID 不存在时返回 nil, nil
func (r *gormAudioFileRepository) GetByID(ctx context.Context, id int64) (*model.AudioFile, error) {
	var file model.AudioFile
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

// GetByIDs 批量获取，不存在的 ID 被忽略
func (r *gormAudioFileRepository) GetByIDs(ctx context.Context, ids []int64) ([]model.AudioFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var files []model.AudioFile
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&files).Error
	return files, err
}

// ExistingIDs 返回 ids 中存在的部分
func (r *gormAudioFileRepository) ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	var found []int64
	err := r.db.WithContext(ctx).Model(&model.AudioFile{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// Register 以 file_path 为唯一键写入
func (r *gormAudioFileRepository) Register(ctx context.Context, file *model.AudioFile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_path"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "artist", "duration", "updated_at"}),
	}).Create(file).Error
}
