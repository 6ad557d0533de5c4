// Package store implements the persona store on SQLite. It exposes the four
// operations the pipeline needs (search, create, update, get); all matching
// semantics beyond coarse SQL filters live in the retriever.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/onion-salad/persona-lens-sub000/internal/logging"
	"github.com/onion-salad/persona-lens-sub000/internal/persona"
)

// ErrNotFound is returned by Get and Update when no persona has the id.
var ErrNotFound = errors.New("persona not found")

// PersonaStore is the persistence interface consumed by the orchestrator.
type PersonaStore interface {
	Search(ctx context.Context, filter Filter) ([]persona.Persona, error)
	Create(ctx context.Context, attrs persona.Attributes) (string, error)
	Update(ctx context.Context, id string, attrs persona.Attributes, updatedAt time.Time) error
	Get(ctx context.Context, id string) (*persona.Persona, error)
}

// Filter narrows a search at the SQL level. Zero value matches everything.
type Filter struct {
	PersonaTypes []persona.Type // IN filter; empty matches all types
	NameEquals   string         // exact name match
	Limit        int            // 0 means no limit
}

// SQLiteStore implements PersonaStore on a single personas table.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore initializes the SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Initializing persona store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	store := &SQLiteStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("Persona store initialization complete")
	return store, nil
}

// initialize creates the personas table.
func (s *SQLiteStore) initialize() error {
	personasTable := `
	CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY,
		persona_type TEXT NOT NULL DEFAULT 'custom',
		name TEXT,
		age_group TEXT,
		gender TEXT,
		location TEXT,
		occupation TEXT,
		industry TEXT,
		job_title TEXT,
		company_size TEXT,
		role_description TEXT,
		interests TEXT,
		values_and_priorities TEXT,
		expertise TEXT,
		background TEXT,
		personality TEXT,
		decision_making_style TEXT,
		custom_attributes TEXT,
		additional_notes TEXT,
		description_by_ai TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_personas_type ON personas(persona_type);
	CREATE INDEX IF NOT EXISTS idx_personas_name ON personas(name);
	`
	if _, err := s.db.Exec(personasTable); err != nil {
		return fmt.Errorf("failed to create personas table: %w", err)
	}
	if err := runMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	logging.Store("Closing persona store database connection")
	return s.db.Close()
}

// personaColumns is the column list shared by every scan path.
const personaColumns = `id, persona_type, name, age_group, gender, location,
	occupation, industry, job_title, company_size, role_description,
	interests, values_and_priorities, expertise, background, personality,
	decision_making_style, custom_attributes, additional_notes,
	description_by_ai, created_at, updated_at`

// Create inserts a new persona and returns the store-assigned id.
func (s *SQLiteStore) Create(ctx context.Context, attrs persona.Attributes) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Create")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	attrs.Normalize()
	id := uuid.NewString()
	now := time.Now().UTC()

	interests, err := encodeStringList(attrs.Interests)
	if err != nil {
		return "", err
	}
	values, err := encodeStringList(attrs.ValuesAndPriorities)
	if err != nil {
		return "", err
	}
	expertise, err := encodeStructured(attrs.Expertise)
	if err != nil {
		return "", err
	}
	background, err := encodeStructured(attrs.Background)
	if err != nil {
		return "", err
	}
	personality, err := encodeStructured(attrs.Personality)
	if err != nil {
		return "", err
	}
	custom, err := encodeStructured(attrs.CustomAttributes)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personas (
			id, persona_type, name, age_group, gender, location,
			occupation, industry, job_title, company_size, role_description,
			interests, values_and_priorities, expertise, background,
			personality, decision_making_style, custom_attributes,
			additional_notes, description_by_ai, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(attrs.PersonaType), attrs.Name, attrs.AgeGroup, attrs.Gender, attrs.Location,
		attrs.Occupation, attrs.Industry, attrs.JobTitle, attrs.CompanySize, attrs.RoleDescription,
		interests, values, expertise, background,
		personality, attrs.DecisionMakingStyle, custom,
		attrs.AdditionalNotes, attrs.DescriptionByAI, now, now,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Create failed: %v", err)
		return "", fmt.Errorf("failed to insert persona: %w", err)
	}

	logging.StoreDebug("Created persona id=%s type=%s name=%q", id, attrs.PersonaType, attrs.Name)
	return id, nil
}

// Update replaces the attribute columns of an existing persona. The caller
// (the updater) has already merged the patch; created_at is never touched.
func (s *SQLiteStore) Update(ctx context.Context, id string, attrs persona.Attributes, updatedAt time.Time) error {
	timer := logging.StartTimer(logging.CategoryStore, "Update")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	attrs.Normalize()

	interests, err := encodeStringList(attrs.Interests)
	if err != nil {
		return err
	}
	values, err := encodeStringList(attrs.ValuesAndPriorities)
	if err != nil {
		return err
	}
	expertise, err := encodeStructured(attrs.Expertise)
	if err != nil {
		return err
	}
	background, err := encodeStructured(attrs.Background)
	if err != nil {
		return err
	}
	personality, err := encodeStructured(attrs.Personality)
	if err != nil {
		return err
	}
	custom, err := encodeStructured(attrs.CustomAttributes)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE personas SET
			persona_type = ?, name = ?, age_group = ?, gender = ?, location = ?,
			occupation = ?, industry = ?, job_title = ?, company_size = ?,
			role_description = ?, interests = ?, values_and_priorities = ?,
			expertise = ?, background = ?, personality = ?,
			decision_making_style = ?, custom_attributes = ?,
			additional_notes = ?, description_by_ai = ?, updated_at = ?
		WHERE id = ?`,
		string(attrs.PersonaType), attrs.Name, attrs.AgeGroup, attrs.Gender, attrs.Location,
		attrs.Occupation, attrs.Industry, attrs.JobTitle, attrs.CompanySize,
		attrs.RoleDescription, interests, values,
		expertise, background, personality,
		attrs.DecisionMakingStyle, custom,
		attrs.AdditionalNotes, attrs.DescriptionByAI, updatedAt.UTC(),
		id,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Update failed for id=%s: %v", id, err)
		return fmt.Errorf("failed to update persona: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	logging.StoreDebug("Updated persona id=%s", id)
	return nil
}

// Get fetches a persona by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM personas WHERE id = ?", personaColumns), id)
	p, err := scanPersona(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

// Search returns personas matching the SQL-level filter. Rows that fail to
// decode are dropped with a warning rather than failing the search.
func (s *SQLiteStore) Search(ctx context.Context, filter Filter) ([]persona.Persona, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Search")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf("SELECT %s FROM personas", personaColumns)
	var conds []string
	var args []interface{}

	if len(filter.PersonaTypes) > 0 {
		placeholders := make([]string, len(filter.PersonaTypes))
		for i, t := range filter.PersonaTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, fmt.Sprintf("persona_type IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.NameEquals != "" {
		conds = append(conds, "name = ?")
		args = append(args, filter.NameEquals)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Search query failed: %v", err)
		return nil, fmt.Errorf("failed to query personas: %w", err)
	}
	defer rows.Close()

	var results []persona.Persona
	dropped := 0
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			dropped++
			logging.Get(logging.CategoryStore).Warn("Dropping undecodable persona row: %v", err)
			continue
		}
		results = append(results, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate personas: %w", err)
	}
	if dropped > 0 {
		logging.Store("Search dropped %d undecodable rows", dropped)
	}

	logging.StoreDebug("Search returned %d personas", len(results))
	return results, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPersona(row scanner) (*persona.Persona, error) {
	var p persona.Persona
	var personaType string
	var name, ageGroup, gender, location sql.NullString
	var occupation, industry, jobTitle, companySize, roleDescription sql.NullString
	var interests, values, expertise, background, personality sql.NullString
	var decisionStyle, custom, notes, description sql.NullString

	err := row.Scan(
		&p.ID, &personaType, &name, &ageGroup, &gender, &location,
		&occupation, &industry, &jobTitle, &companySize, &roleDescription,
		&interests, &values, &expertise, &background, &personality,
		&decisionStyle, &custom, &notes, &description,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.PersonaType = persona.Type(personaType)
	p.Name = name.String
	p.AgeGroup = ageGroup.String
	p.Gender = gender.String
	p.Location = location.String
	p.Occupation = occupation.String
	p.Industry = industry.String
	p.JobTitle = jobTitle.String
	p.CompanySize = companySize.String
	p.RoleDescription = roleDescription.String
	p.DecisionMakingStyle = decisionStyle.String
	p.AdditionalNotes = notes.String
	p.DescriptionByAI = description.String

	if p.Interests, err = decodeStringList(interests.String); err != nil {
		return nil, fmt.Errorf("persona %s: bad interests column: %w", p.ID, err)
	}
	if p.ValuesAndPriorities, err = decodeStringList(values.String); err != nil {
		return nil, fmt.Errorf("persona %s: bad values_and_priorities column: %w", p.ID, err)
	}
	if p.Expertise, err = decodeStructured(expertise.String); err != nil {
		return nil, fmt.Errorf("persona %s: bad expertise column: %w", p.ID, err)
	}
	if p.Background, err = decodeStructured(background.String); err != nil {
		return nil, fmt.Errorf("persona %s: bad background column: %w", p.ID, err)
	}
	if p.Personality, err = decodeStructured(personality.String); err != nil {
		return nil, fmt.Errorf("persona %s: bad personality column: %w", p.ID, err)
	}
	if p.CustomAttributes, err = decodeStructured(custom.String); err != nil {
		return nil, fmt.Errorf("persona %s: bad custom_attributes column: %w", p.ID, err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func encodeStringList(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(raw), nil
}

func decodeStringList(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func encodeStructured(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode structured attributes: %w", err)
	}
	return string(raw), nil
}

func decodeStructured(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

var _ PersonaStore = (*SQLiteStore)(nil)
