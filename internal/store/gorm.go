package store

import (
	"context"
	"errors"
	"time"

	"github.com/emrgen/salesdb/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewGormStore stores the document tree in the documents table, one row per
// <collection>/<key>.
func NewGormStore(db *gorm.DB) *GormStore {
	gs := &GormStore{db: db}
	gs.rowStore = newRowStore(gs)

	return gs
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	*rowStore
	db *gorm.DB
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) getRow(ctx context.Context, collection, key string) ([]byte, bool, error) {
	var doc model.Document
	err := g.db.WithContext(ctx).Where("collection = ? AND doc_key = ?", collection, key).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return []byte(doc.Data), true, nil
}

func (g *GormStore) listRows(ctx context.Context, collection string) (map[string][]byte, error) {
	var docs []*model.Document
	err := g.db.WithContext(ctx).Where("collection = ?", collection).Order("doc_key").Find(&docs).Error
	if err != nil {
		return nil, err
	}

	rows := make(map[string][]byte, len(docs))
	for _, doc := range docs {
		rows[doc.Key] = []byte(doc.Data)
	}

	return rows, nil
}

func (g *GormStore) putRow(ctx context.Context, collection, key string, data []byte) error {
	doc := &model.Document{
		Collection: collection,
		Key:        key,
		Data:       string(data),
		Version:    1,
		UpdatedAt:  time.Now(),
	}

	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "collection"}, {Name: "doc_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"data":       doc.Data,
			"updated_at": doc.UpdatedAt,
			"version":    gorm.Expr("documents.version + 1"),
		}),
	}).Create(doc).Error
}

func (g *GormStore) deleteRow(ctx context.Context, collection, key string) error {
	return g.db.WithContext(ctx).Where("collection = ? AND doc_key = ?", collection, key).Delete(&model.Document{}).Error
}

func (g *GormStore) dropCollection(ctx context.Context, collection string) error {
	return g.db.WithContext(ctx).Where("collection = ?", collection).Delete(&model.Document{}).Error
}

func (g *GormStore) ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}

func (g *GormStore) close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
