// Package sqlconn provides a Postgres-backed identity store connector. Rows
// are scoped by connector id so several connectors can share one database.
// Schema lives in internal/db/migrations.
package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kasunbg/carbon-identity-mgt/internal/claim"
	"github.com/kasunbg/carbon-identity-mgt/internal/connector"
)

// IdentityStore is a SQL identity store connector. Pattern filters use SQL
// LIKE syntax. The connector does not own the database handle.
type IdentityStore struct {
	id    string
	sqlDB *sql.DB
}

var _ connector.IdentityStoreConnector = (*IdentityStore)(nil)

// NewIdentityStore returns a SQL identity store connector with the given
// connector id over an open database.
func NewIdentityStore(id string, sqlDB *sql.DB) *IdentityStore {
	return &IdentityStore{id: id, sqlDB: sqlDB}
}

// ID implements connector.IdentityStoreConnector.
func (s *IdentityStore) ID() string { return s.id }

// AddUser implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddUser(ctx context.Context, attributes []claim.Attribute) (string, error) {
	var localID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		localID, err = s.insertEntity(ctx, tx, "connector_users", "connector_user_attributes", "user_id", attributes)
		return err
	})
	if err != nil {
		return "", err
	}
	return localID, nil
}

// AddUsers implements connector.IdentityStoreConnector. The whole batch is
// written in one transaction, so it either covers every key or fails.
func (s *IdentityStore) AddUsers(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error) {
	localIDs := make(map[string]string, len(attributes))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for key, attrs := range attributes {
			localID, err := s.insertEntity(ctx, tx, "connector_users", "connector_user_attributes", "user_id", attrs)
			if err != nil {
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

// UpdateUserAttributes implements connector.IdentityStoreConnector. The id
// never changes.
func (s *IdentityStore) UpdateUserAttributes(ctx context.Context, connectorUserID string, attributes []claim.Attribute) (string, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replaceAttributes(ctx, tx, "connector_users", "connector_user_attributes", "user_id", connectorUserID, attributes)
	})
	if err != nil {
		return "", err
	}
	return connectorUserID, nil
}

// DeleteUser implements connector.IdentityStoreConnector.
func (s *IdentityStore) DeleteUser(ctx context.Context, connectorUserID string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM connector_users WHERE connector_id = $1 AND id = $2`, s.id, connectorUserID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return connector.ErrNotFound
	}
	return nil
}

// GetConnectorUserID implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetConnectorUserID(ctx context.Context, attributeName, attributeValue string) (string, error) {
	return s.lookupID(ctx, "connector_user_attributes", "user_id", attributeName, attributeValue)
}

// ListConnectorUserIDs implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorUserIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	return s.listIDs(ctx, "connector_user_attributes", "user_id", attributeName, "=", attributeValue, offset, length)
}

// ListConnectorUserIDsByPattern implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorUserIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	return s.listIDs(ctx, "connector_user_attributes", "user_id", attributeName, "LIKE", pattern, offset, length)
}

// GetUserAttributeValues implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetUserAttributeValues(ctx context.Context, connectorUserID string) ([]claim.Attribute, error) {
	return s.selectAttributes(ctx, "connector_users", "connector_user_attributes", "user_id", connectorUserID, nil)
}

// GetUserAttributeValuesByNames implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetUserAttributeValuesByNames(ctx context.Context, connectorUserID string, attributeNames []string) ([]claim.Attribute, error) {
	return s.selectAttributes(ctx, "connector_users", "connector_user_attributes", "user_id", connectorUserID, attributeNames)
}

// RemoveAddedUsersInAFailure implements connector.IdentityStoreConnector.
// Unknown ids are ignored so the operation stays idempotent.
func (s *IdentityStore) RemoveAddedUsersInAFailure(ctx context.Context, connectorUserIDs []string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM connector_users WHERE connector_id = $1 AND id = ANY($2)`, s.id, connectorUserIDs)
	return err
}

// AddGroup implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddGroup(ctx context.Context, attributes []claim.Attribute) (string, error) {
	var localID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		localID, err = s.insertEntity(ctx, tx, "connector_groups", "connector_group_attributes", "group_id", attributes)
		return err
	})
	if err != nil {
		return "", err
	}
	return localID, nil
}

// AddGroups implements connector.IdentityStoreConnector.
func (s *IdentityStore) AddGroups(ctx context.Context, attributes map[string][]claim.Attribute) (map[string]string, error) {
	localIDs := make(map[string]string, len(attributes))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for key, attrs := range attributes {
			localID, err := s.insertEntity(ctx, tx, "connector_groups", "connector_group_attributes", "group_id", attrs)
			if err != nil {
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

// UpdateGroupAttributes implements connector.IdentityStoreConnector.
func (s *IdentityStore) UpdateGroupAttributes(ctx context.Context, connectorGroupID string, attributes []claim.Attribute) (string, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replaceAttributes(ctx, tx, "connector_groups", "connector_group_attributes", "group_id", connectorGroupID, attributes)
	})
	if err != nil {
		return "", err
	}
	return connectorGroupID, nil
}

// DeleteGroup implements connector.IdentityStoreConnector.
func (s *IdentityStore) DeleteGroup(ctx context.Context, connectorGroupID string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM connector_groups WHERE connector_id = $1 AND id = $2`, s.id, connectorGroupID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return connector.ErrNotFound
	}
	return nil
}

// GetConnectorGroupID implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetConnectorGroupID(ctx context.Context, attributeName, attributeValue string) (string, error) {
	return s.lookupID(ctx, "connector_group_attributes", "group_id", attributeName, attributeValue)
}

// ListConnectorGroupIDs implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorGroupIDs(ctx context.Context, attributeName, attributeValue string, offset, length int) ([]string, error) {
	return s.listIDs(ctx, "connector_group_attributes", "group_id", attributeName, "=", attributeValue, offset, length)
}

// ListConnectorGroupIDsByPattern implements connector.IdentityStoreConnector.
func (s *IdentityStore) ListConnectorGroupIDsByPattern(ctx context.Context, attributeName, pattern string, offset, length int) ([]string, error) {
	return s.listIDs(ctx, "connector_group_attributes", "group_id", attributeName, "LIKE", pattern, offset, length)
}

// GetGroupAttributeValues implements connector.IdentityStoreConnector.
func (s *IdentityStore) GetGroupAttributeValues(ctx context.Context, connectorGroupID string) ([]claim.Attribute, error) {
	return s.selectAttributes(ctx, "connector_groups", "connector_group_attributes", "group_id", connectorGroupID, nil)
}

// RemoveAddedGroupsInAFailure implements connector.IdentityStoreConnector.
func (s *IdentityStore) RemoveAddedGroupsInAFailure(ctx context.Context, connectorGroupIDs []string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM connector_groups WHERE connector_id = $1 AND id = ANY($2)`, s.id, connectorGroupIDs)
	return err
}

func (s *IdentityStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *IdentityStore) insertEntity(ctx context.Context, tx *sql.Tx, entityTable, attrTable, fkColumn string, attributes []claim.Attribute) (string, error) {
	localID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, connector_id) VALUES ($1, $2)`, entityTable),
		localID, s.id); err != nil {
		return "", err
	}
	for _, a := range attributes {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (connector_id, %s, name, value) VALUES ($1, $2, $3, $4)`, attrTable, fkColumn),
			s.id, localID, a.Name, a.Value); err != nil {
			return "", err
		}
	}
	return localID, nil
}

func (s *IdentityStore) replaceAttributes(ctx context.Context, tx *sql.Tx, entityTable, attrTable, fkColumn, localID string, attributes []claim.Attribute) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE connector_id = $1 AND id = $2)`, entityTable),
		s.id, localID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return connector.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE connector_id = $1 AND %s = $2`, attrTable, fkColumn),
		s.id, localID); err != nil {
		return err
	}
	for _, a := range attributes {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (connector_id, %s, name, value) VALUES ($1, $2, $3, $4)`, attrTable, fkColumn),
			s.id, localID, a.Name, a.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *IdentityStore) lookupID(ctx context.Context, attrTable, fkColumn, attributeName, attributeValue string) (string, error) {
	var localID string
	err := s.sqlDB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE connector_id = $1 AND name = $2 AND value = $3 ORDER BY %s LIMIT 1`,
			fkColumn, attrTable, fkColumn),
		s.id, attributeName, attributeValue).Scan(&localID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", connector.ErrNotFound
		}
		return "", err
	}
	return localID, nil
}

func (s *IdentityStore) listIDs(ctx context.Context, attrTable, fkColumn, attributeName, op, attributeValue string, offset, length int) ([]string, error) {
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(
		`SELECT DISTINCT %s FROM %s WHERE connector_id = $1 AND name = $2 AND value %s $3 ORDER BY %s OFFSET $4`,
		fkColumn, attrTable, op, fkColumn)
	args := []any{s.id, attributeName, attributeValue, offset}
	if length >= 0 {
		query += ` LIMIT $5`
		args = append(args, length)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *IdentityStore) selectAttributes(ctx context.Context, entityTable, attrTable, fkColumn, localID string, names []string) ([]claim.Attribute, error) {
	var exists bool
	err := s.sqlDB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE connector_id = $1 AND id = $2)`, entityTable),
		s.id, localID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, connector.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT name, value FROM %s WHERE connector_id = $1 AND %s = $2`, attrTable, fkColumn)
	args := []any{s.id, localID}
	if len(names) > 0 {
		query += ` AND name = ANY($3)`
		args = append(args, names)
	}
	query += ` ORDER BY name`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []claim.Attribute
	for rows.Next() {
		var a claim.Attribute
		if err := rows.Scan(&a.Name, &a.Value); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}
