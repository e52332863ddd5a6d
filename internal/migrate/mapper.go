package migrate

import (
	"context"

	"go.uber.org/zap"

	"github.com/chmdznr/template-file-migrator/internal/salesforce"
	"github.com/chmdznr/template-file-migrator/pkg/models"
)

// DefaultMapBatchSize bounds the number of ids bound into one query.
const DefaultMapBatchSize = 200

// Mapper pairs source records with target records sharing their key.
type Mapper struct {
	records   Records
	batchSize int
	log       *zap.Logger
}

// NewMapper returns a mapper querying source records batchSize ids at a time.
func NewMapper(log *zap.Logger, records Records, batchSize int) *Mapper {
	if batchSize <= 0 {
		batchSize = DefaultMapBatchSize
	}
	return &Mapper{
		records:   records,
		batchSize: batchSize,
		log:       log.Named("mapper"),
	}
}

// Map returns one Target per source id, in the same order. Source records
// whose key is empty, unknown, or absent from the target org map to
// models.Unmapped. Keys are compared byte for byte.
func (m *Mapper) Map(ctx context.Context, src, tgt Session, sourceIDs []string) ([]models.Target, error) {
	targets := make([]models.Target, len(sourceIDs))
	if len(sourceIDs) == 0 {
		return targets, nil
	}
	if err := m.records.Validate(); err != nil {
		return nil, salesforce.QueryError.Wrap(err)
	}

	sourceKeys, err := m.sourceKeys(ctx, src, sourceIDs)
	if err != nil {
		return nil, err
	}
	targetIDs, err := m.targetIndex(ctx, tgt)
	if err != nil {
		return nil, err
	}

	unmapped := 0
	for i, id := range sourceIDs {
		key := sourceKeys[id]
		targetID, ok := targetIDs[key]
		if key == "" || !ok {
			targets[i] = models.Unmapped
			unmapped++
			m.log.Debug("unmapped", zap.String("record", id), zap.String("key", key))
			continue
		}
		targets[i] = models.MappedTo(targetID)
	}

	m.log.Info("mapped records",
		zap.Int("records", len(sourceIDs)),
		zap.Int("unmapped", unmapped))
	return targets, nil
}

// sourceKeys returns {id: key} for the given source record ids.
func (m *Mapper) sourceKeys(ctx context.Context, src Session, ids []string) (map[string]string, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	keys := make(map[string]string, len(unique))
	for start := 0; start < len(unique); start += m.batchSize {
		end := min(start+m.batchSize, len(unique))
		rows, err := src.Query(ctx, salesforce.Query{
			Object: m.records.Object,
			Fields: []string{"Id", m.records.KeyField},
			Where:  "Id IN ?",
			Args:   []any{unique[start:end]},
		})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			keys[row.String("Id")] = row.String(m.records.KeyField)
		}
	}
	return keys, nil
}

// targetIndex scans every target record and returns {key: id}. When two
// target records share a key the one read last wins.
func (m *Mapper) targetIndex(ctx context.Context, tgt Session) (map[string]string, error) {
	rows, err := tgt.Query(ctx, salesforce.Query{
		Object: m.records.Object,
		Fields: []string{"Id", m.records.KeyField},
	})
	if err != nil {
		return nil, err
	}

	index := make(map[string]string, len(rows))
	for _, row := range rows {
		key := row.String(m.records.KeyField)
		if key == "" {
			continue
		}
		id := row.String("Id")
		if prev, dup := index[key]; dup {
			m.log.Warn("duplicate key in target org",
				zap.String("key", key),
				zap.String("kept", id),
				zap.String("dropped", prev))
		}
		index[key] = id
	}
	return index, nil
}
