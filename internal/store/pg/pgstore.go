package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"srphub.org/internal/authz"
	"srphub.org/internal/srp"
)

// Store implements srp.Store on PostgreSQL through database/sql over the pgx
// stdlib driver. Zero-value decimals round-trip through NUMERIC columns.
type Store struct {
	db *sql.DB
	q  querier
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ srp.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing handle; used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Atomic runs fn against a serializable transaction so a permission check,
// a status check and the resulting writes commit or roll back together.
func (s *Store) Atomic(ctx context.Context, fn func(srp.Store) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users and groups ---

func (s *Store) CreateUser(ctx context.Context, name string) (*authz.User, error) {
	u := authz.User{Name: name}
	err := s.q.QueryRowContext(ctx, `insert into users(name) values($1) returning id`, name).Scan(&u.ID)
	if isUniqueViolation(err) {
		return nil, srp.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*authz.User, error) {
	u := authz.User{ID: userID}
	err := s.q.QueryRowContext(ctx, `select name from users where id=$1`, userID).Scan(&u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &srp.NotFoundError{Kind: "user", ID: userID}
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateGroup(ctx context.Context, name string) (*authz.Group, error) {
	g := authz.Group{Name: name}
	err := s.q.QueryRowContext(ctx, `insert into groups(name) values($1) returning id`, name).Scan(&g.ID)
	if isUniqueViolation(err) {
		return nil, srp.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GetGroup(ctx context.Context, groupID int64) (*authz.Group, error) {
	g := authz.Group{ID: groupID}
	err := s.q.QueryRowContext(ctx, `select name from groups where id=$1`, groupID).Scan(&g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &srp.NotFoundError{Kind: "group", ID: groupID}
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) AddGroupMember(ctx context.Context, userID, groupID int64) error {
	_, err := s.q.ExecContext(ctx, `
		insert into group_members(user_id, group_id)
		values($1,$2) on conflict do nothing
	`, userID, groupID)
	return err
}

func (s *Store) GetGroups(ctx context.Context, userID int64) ([]*authz.Group, error) {
	rows, err := s.q.QueryContext(ctx, `
		select g.id, g.name
		from groups g
		join group_members m on m.group_id = g.id
		where m.user_id = $1
		order by g.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*authz.Group
	for rows.Next() {
		var g authz.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// --- Divisions ---

func (s *Store) CreateDivision(ctx context.Context, name string) (*authz.Division, error) {
	d := authz.Division{Name: name}
	err := s.q.QueryRowContext(ctx, `insert into divisions(name) values($1) returning id`, name).Scan(&d.ID)
	if isUniqueViolation(err) {
		return nil, srp.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetDivision(ctx context.Context, divisionID int64) (*authz.Division, error) {
	d := authz.Division{ID: divisionID}
	err := s.q.QueryRowContext(ctx, `select name from divisions where id=$1`, divisionID).Scan(&d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &srp.NotFoundError{Kind: "division", ID: divisionID}
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetDivisions(ctx context.Context, divisionIDs []int64) ([]*authz.Division, error) {
	if len(divisionIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		select id, name from divisions where id = any($1) order by id
	`, int64Array(divisionIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDivisions(rows)
}

func (s *Store) ListDivisions(ctx context.Context) ([]*authz.Division, error) {
	rows, err := s.q.QueryContext(ctx, `select id, name from divisions order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDivisions(rows)
}

func scanDivisions(rows *sql.Rows) ([]*authz.Division, error) {
	var divisions []*authz.Division
	for rows.Next() {
		var d authz.Division
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		divisions = append(divisions, &d)
	}
	return divisions, rows.Err()
}

// int64Array renders ids as a postgres array literal so the stdlib driver
// can bind them without pgtype registration.
func int64Array(ids []int64) string {
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += strconv.FormatInt(id, 10)
	}
	return out + "}"
}

// --- Permissions ---

func (s *Store) AddPermission(ctx context.Context, p authz.Permission) error {
	_, err := s.q.ExecContext(ctx, `
		insert into permissions(division_id, entity_id, type) values($1,$2,$3)
	`, p.DivisionID, p.EntityID, string(p.Type))
	if isUniqueViolation(err) {
		return srp.ErrConflict
	}
	return err
}

func (s *Store) RemovePermission(ctx context.Context, p authz.Permission) error {
	res, err := s.q.ExecContext(ctx, `
		delete from permissions where division_id=$1 and entity_id=$2 and type=$3
	`, p.DivisionID, p.EntityID, string(p.Type))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &srp.NotFoundError{Kind: "permission", ID: p.EntityID}
	}
	return nil
}

func (s *Store) GetPermissions(ctx context.Context, filter authz.PermissionFilter) ([]authz.Permission, error) {
	query := `select division_id, entity_id, type from permissions where true`
	var args []any
	if filter.EntityID != nil {
		args = append(args, *filter.EntityID)
		query += ` and entity_id=$` + strconv.Itoa(len(args))
	}
	if filter.DivisionID != nil {
		args = append(args, *filter.DivisionID)
		query += ` and division_id=$` + strconv.Itoa(len(args))
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		query += ` and type=$` + strconv.Itoa(len(args))
	}
	query += ` order by entity_id, division_id, type`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		var typ string
		if err := rows.Scan(&p.DivisionID, &p.EntityID, &typ); err != nil {
			return nil, err
		}
		p.Type = authz.PermissionType(typ)
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// --- Pilots and killmails ---

func (s *Store) CreatePilot(ctx context.Context, p *srp.Pilot) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		insert into pilots(name, user_id) values($1,$2) returning id
	`, p.Name, p.UserID).Scan(&id)
	if isUniqueViolation(err) {
		return 0, srp.ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetPilot(ctx context.Context, pilotID int64) (*srp.Pilot, error) {
	p := srp.Pilot{ID: pilotID}
	err := s.q.QueryRowContext(ctx, `
		select name, user_id from pilots where id=$1
	`, pilotID).Scan(&p.Name, &p.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &srp.NotFoundError{Kind: "pilot", ID: pilotID}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateKillmail(ctx context.Context, k *srp.Killmail) (int64, error) {
	var id int64
	pilot := sql.NullInt64{Int64: k.PilotID, Valid: k.PilotID != 0}
	err := s.q.QueryRowContext(ctx, `
		insert into killmails(user_id, pilot_id, corporation_id, alliance_id,
			system_id, constellation_id, region_id, type_id, occurred_at, url)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) returning id
	`, k.UserID, pilot, k.CorporationID, k.AllianceID, k.SystemID,
		k.ConstellationID, k.RegionID, k.TypeID, k.Timestamp, k.URL).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetKillmail(ctx context.Context, killmailID int64) (*srp.Killmail, error) {
	k := srp.Killmail{ID: killmailID}
	var pilot sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		select user_id, pilot_id, corporation_id, alliance_id, system_id,
			constellation_id, region_id, type_id, occurred_at, url
		from killmails where id=$1
	`, killmailID).Scan(&k.UserID, &pilot, &k.CorporationID, &k.AllianceID,
		&k.SystemID, &k.ConstellationID, &k.RegionID, &k.TypeID, &k.Timestamp, &k.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &srp.NotFoundError{Kind: "killmail", ID: killmailID}
	}
	if err != nil {
		return nil, err
	}
	if pilot.Valid {
		k.PilotID = pilot.Int64
	}
	return &k, nil
}

// --- Requests ---

const requestColumns = `id, details, killmail_id, division_id, created_at, status, base_payout, payout`

func scanRequest(row interface{ Scan(...any) error }) (*srp.Request, error) {
	var r srp.Request
	var status string
	err := row.Scan(&r.ID, &r.Details, &r.KillmailID, &r.DivisionID,
		&r.Timestamp, &status, &r.BasePayout, &r.Payout)
	if err != nil {
		return nil, err
	}
	r.Status = srp.ActionType(status)
	return &r, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID int64) (*srp.Request, error) {
	r, err := scanRequest(s.q.QueryRowContext(ctx,
		`select `+requestColumns+` from requests where id=$1`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &srp.NotFoundError{Kind: "request", ID: requestID}
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, filter srp.RequestFilter) ([]*srp.Request, error) {
	query := `select ` + requestColumns + ` from requests where true`
	var args []any
	if filter.DivisionID != nil {
		args = append(args, *filter.DivisionID)
		query += ` and division_id=$` + strconv.Itoa(len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += ` and status=$` + strconv.Itoa(len(args))
	}
	if filter.SubmitterID != nil {
		args = append(args, *filter.SubmitterID)
		query += ` and killmail_id in (select id from killmails where user_id=$` + strconv.Itoa(len(args)) + `)`
	}
	query += ` order by id desc`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*srp.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (s *Store) AddRequest(ctx context.Context, r *srp.Request) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		insert into requests(details, killmail_id, division_id, created_at, status, base_payout, payout)
		values($1,$2,$3,$4,$5,$6,$7) returning id
	`, r.Details, r.KillmailID, r.DivisionID, r.Timestamp, string(r.Status),
		r.BasePayout, r.Payout).Scan(&id)
	if isUniqueViolation(err) {
		return 0, srp.ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) SaveRequest(ctx context.Context, r *srp.Request) error {
	res, err := s.q.ExecContext(ctx, `
		update requests set details=$2, status=$3, base_payout=$4, payout=$5
		where id=$1
	`, r.ID, r.Details, string(r.Status), r.BasePayout, r.Payout)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &srp.NotFoundError{Kind: "request", ID: r.ID}
	}
	return nil
}

// --- Actions ---

func (s *Store) GetActions(ctx context.Context, requestID int64) ([]*srp.Action, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, type, created_at, contents, user_id, request_id
		from actions where request_id=$1 order by id
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*srp.Action
	for rows.Next() {
		var a srp.Action
		var typ string
		if err := rows.Scan(&a.ID, &typ, &a.Timestamp, &a.Contents, &a.UserID, &a.RequestID); err != nil {
			return nil, err
		}
		a.Type = srp.ActionType(typ)
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

func (s *Store) AddAction(ctx context.Context, a *srp.Action) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		insert into actions(request_id, user_id, type, contents, created_at)
		values($1,$2,$3,$4,$5) returning id
	`, a.RequestID, a.UserID, string(a.Type), a.Contents, a.Timestamp).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// --- Modifiers ---

const modifierColumns = `id, request_id, user_id, type, value, note, created_at, void_user_id, void_at`

func scanModifier(row interface{ Scan(...any) error }) (*srp.Modifier, error) {
	var m srp.Modifier
	var typ string
	var voidUser sql.NullInt64
	var voidAt sql.NullTime
	err := row.Scan(&m.ID, &m.RequestID, &m.UserID, &typ, &m.Value, &m.Note,
		&m.Timestamp, &voidUser, &voidAt)
	if err != nil {
		return nil, err
	}
	m.Type = srp.ModifierType(typ)
	if voidUser.Valid {
		m.VoidUserID = &voidUser.Int64
	}
	if voidAt.Valid {
		t := voidAt.Time
		m.VoidTimestamp = &t
	}
	return &m, nil
}

func (s *Store) GetModifier(ctx context.Context, modifierID int64) (*srp.Modifier, error) {
	m, err := scanModifier(s.q.QueryRowContext(ctx,
		`select `+modifierColumns+` from modifiers where id=$1`, modifierID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &srp.NotFoundError{Kind: "modifier", ID: modifierID}
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) GetModifiers(ctx context.Context, requestID int64, filter srp.ModifierFilter) ([]*srp.Modifier, error) {
	query := `select ` + modifierColumns + ` from modifiers where request_id=$1`
	args := []any{requestID}
	if filter.Void != nil {
		if *filter.Void {
			query += ` and void_at is not null`
		} else {
			query += ` and void_at is null`
		}
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		query += ` and type=$` + strconv.Itoa(len(args))
	}
	query += ` order by id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modifiers []*srp.Modifier
	for rows.Next() {
		m, err := scanModifier(rows)
		if err != nil {
			return nil, err
		}
		modifiers = append(modifiers, m)
	}
	return modifiers, rows.Err()
}

func (s *Store) AddModifier(ctx context.Context, m *srp.Modifier) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		insert into modifiers(request_id, user_id, type, value, note, created_at)
		values($1,$2,$3,$4,$5,$6) returning id
	`, m.RequestID, m.UserID, string(m.Type), m.Value, m.Note, m.Timestamp).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) SaveModifier(ctx context.Context, m *srp.Modifier) error {
	var voidUser sql.NullInt64
	var voidAt sql.NullTime
	if m.VoidUserID != nil {
		voidUser = sql.NullInt64{Int64: *m.VoidUserID, Valid: true}
	}
	if m.VoidTimestamp != nil {
		voidAt = sql.NullTime{Time: *m.VoidTimestamp, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		update modifiers set note=$2, void_user_id=$3, void_at=$4 where id=$1
	`, m.ID, m.Note, voidUser, voidAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &srp.NotFoundError{Kind: "modifier", ID: m.ID}
	}
	return nil
}
