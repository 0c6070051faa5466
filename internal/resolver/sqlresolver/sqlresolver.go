// Package sqlresolver is a Postgres-backed unique id resolver. Schema lives
// in internal/db/migrations. The resolver does not own the database handle.
package sqlresolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kasunbg/carbon-identity-mgt/internal/resolver"
)

// Resolver keeps the logical-id linkage in Postgres. Duplicate logical ids
// are rejected by the primary key; concurrent callers are serialized by the
// database.
type Resolver struct {
	sqlDB *sql.DB
}

var _ resolver.UniqueIDResolver = (*Resolver)(nil)

// New returns a SQL resolver over an open database.
func New(sqlDB *sql.DB) *Resolver {
	return &Resolver{sqlDB: sqlDB}
}

// IsUserExists implements resolver.UniqueIDResolver.
func (r *Resolver) IsUserExists(ctx context.Context, uniqueUserID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM unique_users WHERE id = $1)`, uniqueUserID)
}

// IsGroupExists implements resolver.UniqueIDResolver.
func (r *Resolver) IsGroupExists(ctx context.Context, uniqueGroupID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM unique_groups WHERE id = $1)`, uniqueGroupID)
}

// GetUniqueUser implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueUser(ctx context.Context, uniqueUserID string) (*resolver.UniqueUser, error) {
	exists, err := r.IsUserExists(ctx, uniqueUserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	partitions, err := r.userPartitions(ctx, uniqueUserID)
	if err != nil {
		return nil, err
	}
	return &resolver.UniqueUser{UniqueUserID: uniqueUserID, Partitions: partitions}, nil
}

// GetUniqueUserFromConnectorUserID implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueUserFromConnectorUserID(ctx context.Context, connectorUserID, connectorID string) (*resolver.UniqueUser, error) {
	var uniqueUserID string
	err := r.sqlDB.QueryRowContext(ctx,
		`SELECT unique_user_id FROM user_partitions WHERE connector_id = $1 AND connector_user_id = $2`,
		connectorID, connectorUserID).Scan(&uniqueUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r.GetUniqueUser(ctx, uniqueUserID)
}

// GetUniqueUsers implements resolver.UniqueIDResolver. Result order matches
// the input order; missing entries are skipped.
func (r *Resolver) GetUniqueUsers(ctx context.Context, connectorUserIDs []string, connectorID string) ([]resolver.UniqueUser, error) {
	var users []resolver.UniqueUser
	for _, connectorUserID := range connectorUserIDs {
		u, err := r.GetUniqueUserFromConnectorUserID(ctx, connectorUserID, connectorID)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}

// ListUsers implements resolver.UniqueIDResolver. Users list in commit
// order.
func (r *Resolver) ListUsers(ctx context.Context, offset, length int) ([]resolver.UniqueUser, error) {
	ids, err := r.listIDs(ctx, "unique_users", offset, length)
	if err != nil {
		return nil, err
	}
	users := make([]resolver.UniqueUser, 0, len(ids))
	for _, id := range ids {
		partitions, err := r.userPartitions(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, resolver.UniqueUser{UniqueUserID: id, Partitions: partitions})
	}
	return users, nil
}

// GetUniqueGroup implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueGroup(ctx context.Context, uniqueGroupID string) (*resolver.UniqueGroup, error) {
	exists, err := r.IsGroupExists(ctx, uniqueGroupID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	groups, err := r.groupPartitions(ctx, uniqueGroupID)
	if err != nil {
		return nil, err
	}
	return &resolver.UniqueGroup{UniqueGroupID: uniqueGroupID, Groups: groups}, nil
}

// GetUniqueGroupFromConnectorGroupID implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueGroupFromConnectorGroupID(ctx context.Context, connectorGroupID, connectorID string) (*resolver.UniqueGroup, error) {
	var uniqueGroupID string
	err := r.sqlDB.QueryRowContext(ctx,
		`SELECT unique_group_id FROM group_partitions WHERE connector_id = $1 AND connector_group_id = $2`,
		connectorID, connectorGroupID).Scan(&uniqueGroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r.GetUniqueGroup(ctx, uniqueGroupID)
}

// GetUniqueGroups implements resolver.UniqueIDResolver.
func (r *Resolver) GetUniqueGroups(ctx context.Context, connectorGroupIDs []string, connectorID string) ([]resolver.UniqueGroup, error) {
	var groups []resolver.UniqueGroup
	for _, connectorGroupID := range connectorGroupIDs {
		g, err := r.GetUniqueGroupFromConnectorGroupID(ctx, connectorGroupID, connectorID)
		if err != nil {
			return nil, err
		}
		if g != nil {
			groups = append(groups, *g)
		}
	}
	return groups, nil
}

// ListGroups implements resolver.UniqueIDResolver.
func (r *Resolver) ListGroups(ctx context.Context, offset, length int) ([]resolver.UniqueGroup, error) {
	ids, err := r.listIDs(ctx, "unique_groups", offset, length)
	if err != nil {
		return nil, err
	}
	groups := make([]resolver.UniqueGroup, 0, len(ids))
	for _, id := range ids {
		partitions, err := r.groupPartitions(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, resolver.UniqueGroup{UniqueGroupID: id, Groups: partitions})
	}
	return groups, nil
}

// GetGroupsOfUser implements resolver.UniqueIDResolver.
func (r *Resolver) GetGroupsOfUser(ctx context.Context, uniqueUserID string) ([]resolver.UniqueGroup, error) {
	rows, err := r.sqlDB.QueryContext(ctx,
		`SELECT g.id FROM unique_groups g
		   JOIN group_memberships m ON m.unique_group_id = g.id
		  WHERE m.unique_user_id = $1
		  ORDER BY g.seq`, uniqueUserID)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	groups := make([]resolver.UniqueGroup, 0, len(ids))
	for _, id := range ids {
		partitions, err := r.groupPartitions(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, resolver.UniqueGroup{UniqueGroupID: id, Groups: partitions})
	}
	return groups, nil
}

// GetUsersOfGroup implements resolver.UniqueIDResolver.
func (r *Resolver) GetUsersOfGroup(ctx context.Context, uniqueGroupID string) ([]resolver.UniqueUser, error) {
	rows, err := r.sqlDB.QueryContext(ctx,
		`SELECT u.id FROM unique_users u
		   JOIN group_memberships m ON m.unique_user_id = u.id
		  WHERE m.unique_group_id = $1
		  ORDER BY u.seq`, uniqueGroupID)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	users := make([]resolver.UniqueUser, 0, len(ids))
	for _, id := range ids {
		partitions, err := r.userPartitions(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, resolver.UniqueUser{UniqueUserID: id, Partitions: partitions})
	}
	return users, nil
}

// IsUserInGroup implements resolver.UniqueIDResolver.
func (r *Resolver) IsUserInGroup(ctx context.Context, uniqueUserID, uniqueGroupID string) (bool, error) {
	return r.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_memberships WHERE unique_user_id = $1 AND unique_group_id = $2)`,
		uniqueUserID, uniqueGroupID)
}

// AddUser implements resolver.UniqueIDResolver.
func (r *Resolver) AddUser(ctx context.Context, user resolver.UniqueUser, domainName string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return insertUser(ctx, tx, user, domainName)
	})
}

// AddUsers implements resolver.UniqueIDResolver. The whole batch commits in
// one transaction.
func (r *Resolver) AddUsers(ctx context.Context, partitions map[string][]resolver.UserPartition) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for uniqueUserID, userPartitions := range partitions {
			user := resolver.UniqueUser{UniqueUserID: uniqueUserID, Partitions: userPartitions}
			if err := insertUser(ctx, tx, user, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateUser implements resolver.UniqueIDResolver. Identity partitions are
// replaced by the given connector map; credential partitions are kept.
func (r *Resolver) UpdateUser(ctx context.Context, uniqueUserID string, connectorUserIDs map[string]string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := existsTx(ctx, tx, `SELECT EXISTS (SELECT 1 FROM unique_users WHERE id = $1)`, uniqueUserID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("sqlresolver: unknown unique user id %s", uniqueUserID)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM user_partitions WHERE unique_user_id = $1 AND is_identity_store`, uniqueUserID); err != nil {
			return err
		}
		for connectorID, connectorUserID := range connectorUserIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO user_partitions (unique_user_id, connector_id, connector_user_id, is_identity_store)
				 VALUES ($1, $2, $3, TRUE)`,
				uniqueUserID, connectorID, connectorUserID); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteUser implements resolver.UniqueIDResolver. Partitions and
// memberships go with the row.
func (r *Resolver) DeleteUser(ctx context.Context, uniqueUserID string) error {
	res, err := r.sqlDB.ExecContext(ctx, `DELETE FROM unique_users WHERE id = $1`, uniqueUserID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlresolver: unknown unique user id %s", uniqueUserID)
	}
	return nil
}

// AddGroup implements resolver.UniqueIDResolver.
func (r *Resolver) AddGroup(ctx context.Context, group resolver.UniqueGroup, domainName string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return insertGroup(ctx, tx, group, domainName)
	})
}

// AddGroups implements resolver.UniqueIDResolver.
func (r *Resolver) AddGroups(ctx context.Context, groups map[string][]resolver.ConnectedGroup) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for uniqueGroupID, connectedGroups := range groups {
			group := resolver.UniqueGroup{UniqueGroupID: uniqueGroupID, Groups: connectedGroups}
			if err := insertGroup(ctx, tx, group, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateGroup implements resolver.UniqueIDResolver.
func (r *Resolver) UpdateGroup(ctx context.Context, uniqueGroupID string, connectorGroupIDs map[string]string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := existsTx(ctx, tx, `SELECT EXISTS (SELECT 1 FROM unique_groups WHERE id = $1)`, uniqueGroupID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("sqlresolver: unknown unique group id %s", uniqueGroupID)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_partitions WHERE unique_group_id = $1`, uniqueGroupID); err != nil {
			return err
		}
		for connectorID, connectorGroupID := range connectorGroupIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO group_partitions (unique_group_id, connector_id, connector_group_id)
				 VALUES ($1, $2, $3)`,
				uniqueGroupID, connectorID, connectorGroupID); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteGroup implements resolver.UniqueIDResolver.
func (r *Resolver) DeleteGroup(ctx context.Context, uniqueGroupID string) error {
	res, err := r.sqlDB.ExecContext(ctx, `DELETE FROM unique_groups WHERE id = $1`, uniqueGroupID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlresolver: unknown unique group id %s", uniqueGroupID)
	}
	return nil
}

// UpdateGroupsOfUser implements resolver.UniqueIDResolver.
func (r *Resolver) UpdateGroupsOfUser(ctx context.Context, uniqueUserID string, uniqueGroupIDs []string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := existsTx(ctx, tx, `SELECT EXISTS (SELECT 1 FROM unique_users WHERE id = $1)`, uniqueUserID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("sqlresolver: unknown unique user id %s", uniqueUserID)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_memberships WHERE unique_user_id = $1`, uniqueUserID); err != nil {
			return err
		}
		for _, uniqueGroupID := range uniqueGroupIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO group_memberships (unique_user_id, unique_group_id) VALUES ($1, $2)`,
				uniqueUserID, uniqueGroupID); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateUsersOfGroup implements resolver.UniqueIDResolver.
func (r *Resolver) UpdateUsersOfGroup(ctx context.Context, uniqueGroupID string, uniqueUserIDs []string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := existsTx(ctx, tx, `SELECT EXISTS (SELECT 1 FROM unique_groups WHERE id = $1)`, uniqueGroupID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("sqlresolver: unknown unique group id %s", uniqueGroupID)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_memberships WHERE unique_group_id = $1`, uniqueGroupID); err != nil {
			return err
		}
		for _, uniqueUserID := range uniqueUserIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO group_memberships (unique_user_id, unique_group_id) VALUES ($1, $2)`,
				uniqueUserID, uniqueGroupID); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertUser(ctx context.Context, tx *sql.Tx, user resolver.UniqueUser, domainName string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO unique_users (id, domain_name) VALUES ($1, $2)`,
		user.UniqueUserID, domainName); err != nil {
		return err
	}
	for _, p := range user.Partitions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_partitions (unique_user_id, connector_id, connector_user_id, is_identity_store)
			 VALUES ($1, $2, $3, $4)`,
			user.UniqueUserID, p.ConnectorID, p.ConnectorUserID, p.IdentityStore); err != nil {
			return err
		}
	}
	return nil
}

func insertGroup(ctx context.Context, tx *sql.Tx, group resolver.UniqueGroup, domainName string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO unique_groups (id, domain_name) VALUES ($1, $2)`,
		group.UniqueGroupID, domainName); err != nil {
		return err
	}
	for _, g := range group.Groups {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_partitions (unique_group_id, connector_id, connector_group_id)
			 VALUES ($1, $2, $3)`,
			group.UniqueGroupID, g.ConnectorID, g.ConnectorGroupID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) userPartitions(ctx context.Context, uniqueUserID string) ([]resolver.UserPartition, error) {
	rows, err := r.sqlDB.QueryContext(ctx,
		`SELECT connector_id, connector_user_id, is_identity_store
		   FROM user_partitions WHERE unique_user_id = $1 ORDER BY connector_id`, uniqueUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partitions []resolver.UserPartition
	for rows.Next() {
		var p resolver.UserPartition
		if err := rows.Scan(&p.ConnectorID, &p.ConnectorUserID, &p.IdentityStore); err != nil {
			return nil, err
		}
		partitions = append(partitions, p)
	}
	return partitions, rows.Err()
}

func (r *Resolver) groupPartitions(ctx context.Context, uniqueGroupID string) ([]resolver.ConnectedGroup, error) {
	rows, err := r.sqlDB.QueryContext(ctx,
		`SELECT connector_id, connector_group_id
		   FROM group_partitions WHERE unique_group_id = $1 ORDER BY connector_id`, uniqueGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []resolver.ConnectedGroup
	for rows.Next() {
		var g resolver.ConnectedGroup
		if err := rows.Scan(&g.ConnectorID, &g.ConnectorGroupID); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *Resolver) listIDs(ctx context.Context, table string, offset, length int) ([]string, error) {
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY seq OFFSET $1`, table)
	args := []any{offset}
	if length >= 0 {
		query += ` LIMIT $2`
		args = append(args, length)
	}
	rows, err := r.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (r *Resolver) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var exists bool
	if err := r.sqlDB.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func existsTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Resolver) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanIDs(rows *sql.Rows) ([]string, error) {
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
