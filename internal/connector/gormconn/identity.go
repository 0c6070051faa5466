// Package gormconn provides an embedded-SQLite identity store connector
// built on GORM. It suits single-node deployments where a partition should
// survive restarts without an external database. Pattern filters use SQL
// LIKE syntax.
package gormconn

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
)

// userEntry is an attribute partition row.
type userEntry struct {
	ID          string `gorm:"primaryKey"`
	ConnectorID string `gorm:"index"`
	Kind        string `gorm:"index"` // "user" or "group"
}

// attributeEntry is one attribute of an entry.
type attributeEntry struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	EntryID string `gorm:"index"`
	Name    string `gorm:"index"`
	Value   string `gorm:"index"`
}

const (
	kindUser  = "user"
	kindGroup = "group"
)

// IdentityStore is a GORM/SQLite identity store connector. The connector
// owns the database handle.
type IdentityStore struct {
	id string
	db *gorm.DB
}

var _ connector.IdentityStoreConnector = (*IdentityStore)(nil)

// OpenIdentityStore opens (or creates) the SQLite database at path and
// migrates the schema.
func OpenIdentityStore(id, path string) (*IdentityStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormconn: open sqlite store at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&userEntry{}, &attributeEntry{}); err != nil {
		return nil, fmt.Errorf("gormconn: migrate schema: %w", err)
	}
	return &IdentityStore{id: id, db: db}, nil
}

// ID implements connector.IdentityStoreConnector.
func (s *IdentityStore) ID() string { return s.id }

// AddUser implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddUser(ctx context.Context, attributes []claim.Attribute) (string, error) {
	return s.addEntry(ctx, kindUser, attributes)
}

// AddUsers implements connector.IdentityStoreConnector. The whole batch is
// written in one transaction.
func (s *IdentityStore) AddUsers(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error) {
	return s.addEntries(ctx, kindUser, attributes)
}

// UpdateUserAttributes implements connector.IdentityStoreConnector.
func (s *IdentityStore) UpdateUserAttributes(ctx context.Context, connectorUserID string, attributes []claim.Attribute) (string, error) {
	return connectorUserID, s.replaceAttributes(ctx, kindUser, connectorUserID, attributes)
}

// DeleteUser implements connector.IdentityStoreConnector.
func (s *IdentityStore) DeleteUser(ctx context.Context, connectorUserID string) error {
	return s.deleteEntry(ctx, kindUser, connectorUserID)
}

// GetConnectorUserID implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetConnectorUserID(ctx context.Context, attributeName, attributeValue string) (string, error) {
	ids, err := s.matchIDs(ctx, kindUser, attributeName, "=", attributeValue, 0, 1)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", connector.ErrNotFound
	}
	return ids[0], nil
}

// ListConnectorUserIDs implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorUserIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	return s.matchIDs(ctx, kindUser, attributeName, "=", attributeValue, offset, length)
}

// ListConnectorUserIDsByPattern implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorUserIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	return s.matchIDs(ctx, kindUser, attributeName, "LIKE", pattern, offset, length)
}

// GetUserAttributeValues implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetUserAttributeValues(ctx context.Context, connectorUserID string) ([]claim.Attribute, error) {
	return s.entryAttributes(ctx, kindUser, connectorUserID, nil)
}

// GetUserAttributeValuesByNames implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetUserAttributeValuesByNames(ctx context.Context, connectorUserID string, attributeNames []string) ([]claim.Attribute, error) {
	return s.entryAttributes(ctx, kindUser, connectorUserID, attributeNames)
}

// RemoveAddedUsersInAFailure implements connector.IdentityStoreConnector.
func (s *IdentityStore) RemoveAddedUsersInAFailure(ctx context.Context, connectorUserIDs []string) error {
	return s.removeEntries(ctx, kindUser, connectorUserIDs)
}

// AddGroup implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddGroup(ctx context.Context, attributes []claim.Attribute) (string, error) {
	return s.addEntry(ctx, kindGroup, attributes)
}

// AddGroups implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddGroups(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error) {
	return s.addEntries(ctx, kindGroup, attributes)
}

// UpdateGroupAttributes implements connector.IdentityStoreConnector.
func (s *IdentityStore) UpdateGroupAttributes(ctx context.Context, connectorGroupID string, attributes []claim.Attribute) (string, error) {
	return connectorGroupID, s.replaceAttributes(ctx, kindGroup, connectorGroupID, attributes)
}

// DeleteGroup implements connector.IdentityStoreConnector.
func (s *IdentityStore) DeleteGroup(ctx context.Context, connectorGroupID string) error {
	return s.deleteEntry(ctx, kindGroup, connectorGroupID)
}

// GetConnectorGroupID implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetConnectorGroupID(ctx context.Context, attributeName, attributeValue string) (string, error) {
	ids, err := s.matchIDs(ctx, kindGroup, attributeName, "=", attributeValue, 0, 1)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", connector.ErrNotFound
	}
	return ids[0], nil
}

// ListConnectorGroupIDs implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorGroupIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	return s.matchIDs(ctx, kindGroup, attributeName, "=", attributeValue, offset, length)
}

// ListConnectorGroupIDsByPattern implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorGroupIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	return s.matchIDs(ctx, kindGroup, attributeName, "LIKE", pattern, offset, length)
}

// GetGroupAttributeValues implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetGroupAttributeValues(ctx context.Context, connectorGroupID string) ([]claim.Attribute, error) {
	return s.entryAttributes(ctx, kindGroup, connectorGroupID, nil)
}

// RemoveAddedGroupsInAFailure implements connector.IdentityStoreConnector.
func (s *IdentityStore) RemoveAddedGroupsInAFailure(ctx context.Context, connectorGroupIDs []string) error {
	return s.removeEntries(ctx, kindGroup, connectorGroupIDs)
}

func (s *IdentityStore) addEntry(ctx context.Context, kind string, attributes []claim.Attribute) (string, error) {
	localID := uuid.New().String()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createEntry(tx, s.id, kind, localID, attributes)
	})
	if err != nil {
		return "", err
	}
	return localID, nil
}

func (s *IdentityStore) addEntries(ctx context.Context, kind string, attributes map[string][]claim.Attribute) (map[string]string, error) {
	localIDs := make(map[string]string, len(attributes))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, attrs := range attributes {
			localID := uuid.New().String()
			if err := createEntry(tx, s.id, kind, localID, attrs); err != nil {
				return err
			}
			localIDs[key] = localID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return localIDs, nil
}

func createEntry(tx *gorm.DB, connectorID, kind, localID string, attributes []claim.Attribute) error {
	if err := tx.Create(&userEntry{ID: localID, ConnectorID: connectorID, Kind: kind}).Error; err != nil {
		return err
	}
	for _, a := range attributes {
		if err := tx.Create(&attributeEntry{EntryID: localID, Name: a.Name, Value: a.Value}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *IdentityStore) replaceAttributes(ctx context.Context, kind, localID string, attributes []claim.Attribute) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry userEntry
		err := tx.Where("id = ? AND connector_id = ? AND kind = ?", localID, s.id, kind).First(&entry).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return connector.ErrNotFound
			}
			return err
		}
		if err := tx.Where("entry_id = ?", localID).Delete(&attributeEntry{}).Error; err != nil {
			return err
		}
		for _, a := range attributes {
			if err := tx.Create(&attributeEntry{EntryID: localID, Name: a.Name, Value: a.Value}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *IdentityStore) deleteEntry(ctx context.Context, kind, localID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND connector_id = ? AND kind = ?", localID, s.id, kind).Delete(&userEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return connector.ErrNotFound
		}
		return tx.Where("entry_id = ?", localID).Delete(&attributeEntry{}).Error
	})
}

func (s *IdentityStore) removeEntries(ctx context.Context, kind string, localIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id IN ? AND connector_id = ? AND kind = ?", localIDs, s.id, kind).
			Delete(&userEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("entry_id IN ?", localIDs).Delete(&attributeEntry{}).Error
	})
}

func (s *IdentityStore) matchIDs(ctx context.Context, kind, attributeName, op, attributeValue string, offset, length int) ([]string, error) {
	if offset < 0 {
		offset = 0
	}
	q := s.db.WithContext(ctx).
		Model(&attributeEntry{}).
		Distinct().
		Joins("JOIN user_entries ON user_entries.id = attribute_entries.entry_id").
		Where("user_entries.connector_id = ? AND user_entries.kind = ?", s.id, kind).
		Where(fmt.Sprintf("attribute_entries.name = ? AND attribute_entries.value %s ?", op), attributeName, attributeValue).
		Order("attribute_entries.entry_id").
		Offset(offset)
	if length >= 0 {
		q = q.Limit(length)
	}
	var ids []string
	if err := q.Pluck("attribute_entries.entry_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *IdentityStore) entryAttributes(ctx context.Context, kind, localID string, names []string) ([]claim.Attribute, error) {
	var entry userEntry
	err := s.db.WithContext(ctx).
		Where("id = ? AND connector_id = ? AND kind = ?", localID, s.id, kind).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, connector.ErrNotFound
		}
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("entry_id = ?", localID)
	if len(names) > 0 {
		q = q.Where("name IN ?", names)
	}
	var entries []attributeEntry
	if err := q.Order("name").Find(&entries).Error; err != nil {
		return nil, err
	}
	attrs := make([]claim.Attribute, 0, len(entries))
	for _, e := range entries {
		attrs = append(attrs, claim.Attribute{Name: e.Name, Value: e.Value})
	}
	return attrs, nil
}
