package repository

import (
	"context"
	"errors"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrLearningNodeNotFound = errors.New("learning node not found")

type LearningNodeRepository interface {
	Create(ctx context.Context, node *domain.LearningNode) error
	FindByID(ctx context.Context, id string) (*domain.LearningNode, error)
	ListByTopic(ctx context.Context, topic string, page PageRequest) (PageResult[domain.LearningNode], error)
	Update(ctx context.Context, node *domain.LearningNode) error
	Delete(ctx context.Context, id string) error
}

type GormLearningNodeRepository struct{ db *gorm.DB }

func NewLearningNodeRepository(db *gorm.DB) LearningNodeRepository {
	return &GormLearningNodeRepository{db: db}
}

func (r *GormLearningNodeRepository) Create(ctx context.Context, node *domain.LearningNode) error {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Create(node).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "learning_node", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "learning_node", "create", "success")
	return nil
}

func (r *GormLearningNodeRepository) FindByID(ctx context.Context, id string) (*domain.LearningNode, error) {
	var node domain.LearningNode
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "learning_node", "find_by_id", "not_found")
			return nil, ErrLearningNodeNotFound
		}
		observability.RecordRepositoryOperation(ctx, "learning_node", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "learning_node", "find_by_id", "success")
	return &node, nil
}

func (r *GormLearningNodeRepository) ListByTopic(ctx context.Context, topic string, page PageRequest) (PageResult[domain.LearningNode], error) {
	normalized := normalizePageRequest(page)
	q := r.db.WithContext(ctx).Model(&domain.LearningNode{})
	if topic != "" {
		q = q.Where("topic = ?", topic)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "learning_node", "list", "error")
		return PageResult[domain.LearningNode]{}, err
	}

	var nodes []domain.LearningNode
	err := q.Order("created_at DESC").
		Offset((normalized.Page - 1) * normalized.PageSize).
		Limit(normalized.PageSize).
		Find(&nodes).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "learning_node", "list", "error")
		return PageResult[domain.LearningNode]{}, err
	}
	observability.RecordRepositoryOperation(ctx, "learning_node", "list", "success")
	return PageResult[domain.LearningNode]{
		Items:      nodes,
		Page:       normalized.Page,
		PageSize:   normalized.PageSize,
		TotalItems: total,
		TotalPages: calcTotalPages(total, normalized.PageSize),
	}, nil
}

func (r *GormLearningNodeRepository) Update(ctx context.Context, node *domain.LearningNode) error {
	err := r.db.WithContext(ctx).Save(node).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "learning_node", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "learning_node", "update", "success")
	return nil
}

func (r *GormLearningNodeRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.LearningNode{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "learning_node", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "learning_node", "delete", "not_found")
		return ErrLearningNodeNotFound
	}
	observability.RecordRepositoryOperation(ctx, "learning_node", "delete", "success")
	return nil
}
