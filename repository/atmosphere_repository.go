package repository

import (
	"context"
	"errors"
	"strings"

	"AtmoMix/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAtmosphereNotFound 氛围不存在
var ErrAtmosphereNotFound = errors.New("atmosphere not found")

// AtmosphereRepository 氛围数据访问接口
type AtmosphereRepository interface {
	// 氛围
	GetByID(ctx context.Context, id int64) (*model.Atmosphere, error)
	List(ctx context.Context) ([]*model.Atmosphere, error)
	Search(ctx context.Context, search model.AtmosphereSearch) ([]*model.Atmosphere, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, id int64) error

	// Save 保存元数据并整体替换成员列表，在一个事务内完成
	Save(ctx context.Context, atmosphere *model.Atmosphere, sounds []model.AtmosphereSound) (int64, error)

	// 成员
	GetSounds(ctx context.Context, atmosphereID int64) ([]model.AtmosphereSound, error)
	CountSounds(ctx context.Context) (map[int64]int, error)
	ReferencedAudioIDs(ctx context.Context) (map[int64][]int64, error)

	// 分类
	GetCategories(ctx context.Context) ([]model.AtmosphereCategory, error)
}

// gormAtmosphereRepository GORM 实现
type gormAtmosphereRepository struct {
	db *gorm.DB
}

// NewGormAtmosphereRepository 创建 GORM 氛围仓库
func NewGormAtmosphereRepository(db *gorm.DB) AtmosphereRepository {
	return &gormAtmosphereRepository{db: db}
}

// ========== 氛围 ==========

// GetByID 根据ID获取氛围，不存在时返回 nil, nil
func (r *gormAtmosphereRepository) GetByID(ctx context.Context, id int64) (*model.Atmosphere, error) {
	var atmosphere model.Atmosphere
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&atmosphere).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &atmosphere, nil
}

// List 全部氛围，按名称排序
func (r *gormAtmosphereRepository) List(ctx context.Context) ([]*model.Atmosphere, error) {
	var atmospheres []*model.Atmosphere
	err := r.db.WithContext(ctx).Order("name ASC").Find(&atmospheres).Error
	return atmospheres, err
}

// Search 按关键字、分类和标签筛选
func (r *gormAtmosphereRepository) Search(ctx context.Context, search model.AtmosphereSearch) ([]*model.Atmosphere, error) {
	query := r.db.WithContext(ctx).Model(&model.Atmosphere{})

	if q := strings.TrimSpace(search.Query); q != "" {
		like := "%" + q + "%"
		query = query.Where("name LIKE ? OR title LIKE ? OR description LIKE ?", like, like, like)
	}
	if search.Category != "" {
		query = query.Where("category = ?", search.Category)
	}
	for _, kw := range search.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		query = query.Where("JSON_CONTAINS(keywords, JSON_QUOTE(?))", kw)
	}

	var atmospheres []*model.Atmosphere
	err := query.Order("name ASC").Find(&atmospheres).Error
	return atmospheres, err
}

// ExistsByName 检查名称是否已被使用
func (r *gormAtmosphereRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Atmosphere{}).
		Where("name = ?", name).
		Count(&count).Error
	return count > 0, err
}

// Delete 删除氛围及其成员
func (r *gormAtmosphereRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("atmosphere_id = ?", id).Delete(&model.AtmosphereSound{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&model.Atmosphere{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAtmosphereNotFound
		}
		return nil
	})
}

// Save ID 为 0 时创建，否则按主键更新；成员列表整体替换
func (r *gormAtmosphereRepository) Save(ctx context.Context, atmosphere *model.Atmosphere, sounds []model.AtmosphereSound) (int64, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if atmosphere.ID == 0 {
			if err := tx.Create(atmosphere).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(atmosphere).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("atmosphere_id = ?", atmosphere.ID).Delete(&model.AtmosphereSound{}).Error; err != nil {
			return err
		}
		if len(sounds) == 0 {
			return nil
		}

		rows := make([]model.AtmosphereSound, len(sounds))
		for i, s := range sounds {
			s.ID = 0
			s.AtmosphereID = atmosphere.ID
			rows[i] = s
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "atmosphere_id"}, {Name: "audio_file_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"volume", "is_looping", "is_muted", "min_seconds", "max_seconds"}),
		}).CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return 0, err
	}
	return atmosphere.ID, nil
}

// ========== 成员 ==========

// GetSounds 氛围的成员，按加入顺序
func (r *gormAtmosphereRepository) GetSounds(ctx context.Context, atmosphereID int64) ([]model.AtmosphereSound, error) {
	var sounds []model.AtmosphereSound
	err := r.db.WithContext(ctx).
		Where("atmosphere_id = ?", atmosphereID).
		Order("id ASC").
		Find(&sounds).Error
	return sounds, err
}

// CountSounds 每个氛围的成员数量
func (r *gormAtmosphereRepository) CountSounds(ctx context.Context) (map[int64]int, error) {
	var rows []struct {
		AtmosphereID int64
		Count        int
	}
	err := r.db.WithContext(ctx).Model(&model.AtmosphereSound{}).
		Select("atmosphere_id, COUNT(*) AS count").
		Group("atmosphere_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int, len(rows))
	for _, row := range rows {
		counts[row.AtmosphereID] = row.Count
	}
	return counts, nil
}

// ReferencedAudioIDs 每个氛围引用的音频 ID
func (r *gormAtmosphereRepository) ReferencedAudioIDs(ctx context.Context) (map[int64][]int64, error) {
	var rows []struct {
		AtmosphereID int64
		AudioFileID  int64
	}
	err := r.db.WithContext(ctx).Model(&model.AtmosphereSound{}).
		Select("atmosphere_id, audio_file_id").
		Order("atmosphere_id ASC, id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	refs := make(map[int64][]int64)
	for _, row := range rows {
		refs[row.AtmosphereID] = append(refs[row.AtmosphereID], row.AudioFileID)
	}
	return refs, nil
}

// ========== 分类 ==========

// GetCategories 全部分类，按显示顺序
func (r *gormAtmosphereRepository) GetCategories(ctx context.Context) ([]model.AtmosphereCategory, error) {
	var categories []model.AtmosphereCategory
	err := r.db.WithContext(ctx).Order("display_order ASC, name ASC").Find(&categories).Error
	return categories, err
}
