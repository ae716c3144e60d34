package atmosphere

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"AtmoMix/logger"
	"AtmoMix/model"
	"AtmoMix/repository"
)

// ErrNameRequired 保存时名称为空
var ErrNameRequired = errors.New("atmosphere name is required")

// DetailCache 详情和完整性缓存，cache.AtmosphereCache 实现了它
type DetailCache interface {
	GetDetail(ctx context.Context, id int64) (*model.AtmosphereWithSounds, error)
	SetDetail(ctx context.Context, detail *model.AtmosphereWithSounds) error
	GetIntegrity(ctx context.Context, id int64) (*model.AtmosphereIntegrity, error)
	SetIntegrity(ctx context.Context, integrity *model.AtmosphereIntegrity) error
	Invalidate(ctx context.Context, id int64) error
}

// Service 氛围后端：仓库 + 可选缓存
type Service struct {
	atmospheres repository.AtmosphereRepository
	audioFiles  repository.AudioFileRepository
	cache       DetailCache // 可以为 nil
}

// NewService 创建氛围服务，cache 为 nil 时不使用缓存
func NewService(atmospheres repository.AtmosphereRepository, audioFiles repository.AudioFileRepository, cache DetailCache) *Service {
	return &Service{
		atmospheres: atmospheres,
		audioFiles:  audioFiles,
		cache:       cache,
	}
}

// GetAtmosphereWithSounds 氛围元数据、成员及其引用的音频文件
func (s *Service) GetAtmosphereWithSounds(ctx context.Context, id int64) (*model.AtmosphereWithSounds, error) {
	if s.cache != nil {
		if detail, err := s.cache.GetDetail(ctx, id); err != nil {
			logger.Warn("读取氛围缓存失败", logger.Int64("atmosphereId", id), logger.ErrorField(err))
		} else if detail != nil {
			return detail, nil
		}
	}

	atmo, err := s.atmospheres.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get atmosphere: %w", err)
	}
	if atmo == nil {
		return nil, repository.ErrAtmosphereNotFound
	}

	sounds, err := s.atmospheres.GetSounds(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get atmosphere sounds: %w", err)
	}

	ids := make([]int64, 0, len(sounds))
	for _, snd := range sounds {
		ids = append(ids, snd.AudioFileID)
	}
	files, err := s.audioFiles.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get audio files: %w", err)
	}

	detail := &model.AtmosphereWithSounds{
		Atmosphere: *atmo,
		Sounds:     sounds,
		AudioFiles: files,
	}
	if detail.Sounds == nil {
		detail.Sounds = []model.AtmosphereSound{}
	}
	if detail.AudioFiles == nil {
		detail.AudioFiles = []model.AudioFile{}
	}

	if s.cache != nil {
		if err := s.cache.SetDetail(ctx, detail); err != nil {
			logger.Warn("写入氛围缓存失败", logger.Int64("atmosphereId", id), logger.ErrorField(err))
		}
	}
	return detail, nil
}

// SaveAtmosphere ID 为 0 时创建；成员列表整体替换
func (s *Service) SaveAtmosphere(ctx context.Context, payload *model.AtmosphereSavePayload) (int64, error) {
	if payload == nil {
		return 0, fmt.Errorf("empty payload")
	}

	atmo := payload.Atmosphere
	atmo.Name = strings.TrimSpace(atmo.Name)
	if atmo.Name == "" {
		return 0, ErrNameRequired
	}
	if atmo.Title == "" {
		atmo.Title = atmo.Name
	}
	if atmo.Keywords == nil {
		atmo.Keywords = model.StringList{}
	}
	if atmo.DefaultCrossfadeMs <= 0 {
		atmo.DefaultCrossfadeMs = model.DefaultCrossfadeMs
	}
	if !model.IsValidFadeCurve(atmo.FadeCurve) {
		atmo.FadeCurve = model.FadeCurveLinear
	}

	// 同一音频只保留第一条
	seen := make(map[int64]bool, len(payload.Sounds))
	sounds := make([]model.AtmosphereSound, 0, len(payload.Sounds))
	for _, snd := range payload.Sounds {
		if snd.AudioFileID <= 0 || seen[snd.AudioFileID] {
			continue
		}
		seen[snd.AudioFileID] = true
		if snd.CreatedAt.IsZero() {
			snd.CreatedAt = time.Now()
		}
		sounds = append(sounds, snd)
	}

	id, err := s.atmospheres.Save(ctx, &atmo, sounds)
	if err != nil {
		return 0, fmt.Errorf("failed to save atmosphere: %w", err)
	}
	s.invalidate(ctx, id)

	logger.Info("氛围已保存",
		logger.Int64("atmosphereId", id),
		logger.String("name", atmo.Name),
		logger.Int("sounds", len(sounds)))
	return id, nil
}

// DeleteAtmosphere 删除氛围及其成员
func (s *Service) DeleteAtmosphere(ctx context.Context, id int64) error {
	if err := s.atmospheres.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	logger.Info("氛围已删除", logger.Int64("atmosphereId", id))
	return nil
}

// DuplicateAtmosphere 复制氛围和成员，名称依次尝试 "X (Copy)"、"X (Copy 2)"...
func (s *Service) DuplicateAtmosphere(ctx context.Context, id int64) (int64, error) {
	detail, err := s.GetAtmosphereWithSounds(ctx, id)
	if err != nil {
		return 0, err
	}

	name, err := s.copyName(ctx, detail.Atmosphere.Name)
	if err != nil {
		return 0, err
	}

	copied := detail.Atmosphere
	copied.ID = 0
	copied.Name = name
	copied.Title = name
	copied.CreatedAt = time.Time{}
	copied.UpdatedAt = time.Time{}

	sounds := make([]model.AtmosphereSound, len(detail.Sounds))
	for i, snd := range detail.Sounds {
		snd.ID = 0
		snd.AtmosphereID = 0
		snd.CreatedAt = time.Time{}
		sounds[i] = snd
	}

	return s.SaveAtmosphere(ctx, &model.AtmosphereSavePayload{Atmosphere: copied, Sounds: sounds})
}

func (s *Service) copyName(ctx context.Context, base string) (string, error) {
	for n := 1; ; n++ {
		name := fmt.Sprintf("%s (Copy)", base)
		if n > 1 {
			name = fmt.Sprintf("%s (Copy %d)", base, n)
		}
		exists, err := s.atmospheres.ExistsByName(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to check atmosphere name: %w", err)
		}
		if !exists {
			return name, nil
		}
	}
}

// ComputeIntegrity 成员引用但已不存在的音频文件
func (s *Service) ComputeIntegrity(ctx context.Context, id int64) (*model.AtmosphereIntegrity, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetIntegrity(ctx, id); err == nil && cached != nil {
			return cached, nil
		}
	}

	atmo, err := s.atmospheres.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get atmosphere: %w", err)
	}
	if atmo == nil {
		return nil, repository.ErrAtmosphereNotFound
	}

	sounds, err := s.atmospheres.GetSounds(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get atmosphere sounds: %w", err)
	}
	ids := make([]int64, 0, len(sounds))
	for _, snd := range sounds {
		ids = append(ids, snd.AudioFileID)
	}

	existing, err := s.audioFiles.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check audio files: %w", err)
	}

	integrity := &model.AtmosphereIntegrity{AtmosphereID: id, MissingIDs: missing(ids, existing)}
	if s.cache != nil {
		if err := s.cache.SetIntegrity(ctx, integrity); err != nil {
			logger.Warn("写入完整性缓存失败", logger.Int64("atmosphereId", id), logger.ErrorField(err))
		}
	}
	return integrity, nil
}

// ComputeAllIntegrities 一次查询算出全部氛围的缺失音频
func (s *Service) ComputeAllIntegrities(ctx context.Context) (map[int64]model.AtmosphereIntegrity, error) {
	refs, err := s.atmospheres.ReferencedAudioIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get referenced audio: %w", err)
	}

	unique := make(map[int64]bool)
	var all []int64
	for _, ids := range refs {
		for _, id := range ids {
			if !unique[id] {
				unique[id] = true
				all = append(all, id)
			}
		}
	}

	existing, err := s.audioFiles.ExistingIDs(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("failed to check audio files: %w", err)
	}

	result := make(map[int64]model.AtmosphereIntegrity, len(refs))
	for atmoID, ids := range refs {
		result[atmoID] = model.AtmosphereIntegrity{AtmosphereID: atmoID, MissingIDs: missing(ids, existing)}
	}
	return result, nil
}

// Search 按文字、分类和标签筛选
func (s *Service) Search(ctx context.Context, search model.AtmosphereSearch) ([]*model.Atmosphere, error) {
	return s.atmospheres.Search(ctx, search)
}

// GetAll 全部氛围
func (s *Service) GetAll(ctx context.Context) ([]*model.Atmosphere, error) {
	return s.atmospheres.List(ctx)
}

// Summaries 全部氛围，附带成员数和缺失音频
func (s *Service) Summaries(ctx context.Context) ([]model.AtmosphereSummary, error) {
	atmospheres, err := s.atmospheres.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list atmospheres: %w", err)
	}
	counts, err := s.atmospheres.CountSounds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count sounds: %w", err)
	}
	integrities, err := s.ComputeAllIntegrities(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.AtmosphereSummary, 0, len(atmospheres))
	for _, atmo := range atmospheres {
		integrity := integrities[atmo.ID]
		summaries = append(summaries, model.AtmosphereSummary{
			Atmosphere:   *atmo,
			SoundsCount:  counts[atmo.ID],
			MissingCount: len(integrity.MissingIDs),
			MissingIDs:   integrity.MissingIDs,
		})
	}
	return summaries, nil
}

// GetCategories 全部分类
func (s *Service) GetCategories(ctx context.Context) ([]model.AtmosphereCategory, error) {
	return s.atmospheres.GetCategories(ctx)
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		logger.Warn("清除氛围缓存失败", logger.Int64("atmosphereId", id), logger.ErrorField(err))
	}
}

// missing 按升序返回不在 existing 中的 ID
func missing(ids []int64, existing map[int64]bool) []int64 {
	out := []int64{}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if existing[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
