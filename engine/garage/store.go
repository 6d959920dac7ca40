package garage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/pkg/repo"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// maxGarageSize bounds how many vehicles are read for one user.
const maxGarageSize = 200

// vehicleRepo is the subset of repo.Repository the store needs.
type vehicleRepo interface {
	Get(ctx context.Context, id string) (domain.Vehicle, error)
	List(ctx context.Context, opts repo.ListOpts) ([]domain.Vehicle, error)
	Save(ctx context.Context, v domain.Vehicle) (domain.Vehicle, error)
	Delete(ctx context.Context, id string) error
}

// Store reads garage vehicles from Neo4j. Vehicles are :Vehicle nodes
// carrying the owning user's id.
type Store struct {
	vehicles vehicleRepo
	now      func() time.Time
}

// NewStore creates a Neo4j-backed vehicle store.
func NewStore(driver neo4j.DriverWithContext) *Store {
	return &Store{
		vehicles: repo.NewNeo4jRepo[domain.Vehicle, string](driver, "Vehicle", vehicleToMap, vehicleFromRecord),
		now:      time.Now,
	}
}

// GetUserVehicles returns the user's garage, oldest first.
func (s *Store) GetUserVehicles(ctx context.Context, userID string) ([]domain.Vehicle, error) {
	vs, err := s.vehicles.List(ctx, repo.ListOpts{
		Limit:   maxGarageSize,
		Filter:  map[string]any{"user_id": userID},
		OrderBy: "created_at_ms",
	})
	if err != nil {
		return nil, fmt.Errorf("garage: list vehicles for %s: %w", userID, err)
	}
	return vs, nil
}

// GetVehicle returns one of the user's vehicles, or nil if the user owns no
// vehicle with that id.
func (s *Store) GetVehicle(ctx context.Context, userID, id string) (*domain.Vehicle, error) {
	v, err := s.vehicles.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("garage: get vehicle %s: %w", id, err)
	}
	if v.UserID != userID {
		return nil, nil
	}
	return &v, nil
}

// AddVehicle registers a vehicle in the user's garage.
func (s *Store) AddVehicle(ctx context.Context, userID string, v domain.Vehicle) (domain.Vehicle, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.UserID = userID
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now().UTC()
	}
	created, err := s.vehicles.Save(ctx, v)
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("garage: add vehicle: %w", err)
	}
	return created, nil
}

// RemoveVehicle deletes one of the user's vehicles. A vehicle owned by
// someone else is reported as domain.ErrVehicleNotFound.
func (s *Store) RemoveVehicle(ctx context.Context, userID, id string) error {
	v, err := s.GetVehicle(ctx, userID, id)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("garage: remove vehicle %s: %w", id, domain.ErrVehicleNotFound)
	}
	err = s.vehicles.Delete(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("garage: remove vehicle %s: %w", id, domain.ErrVehicleNotFound)
	}
	if err != nil {
		return fmt.Errorf("garage: remove vehicle %s: %w", id, err)
	}
	return nil
}

func vehicleToMap(v domain.Vehicle) map[string]any {
	return map[string]any{
		"id":            v.ID,
		"user_id":       v.UserID,
		"make":          v.Make,
		"model":         v.Model,
		"year":          int64(v.Year),
		"nickname":      v.Nickname,
		"trim":          v.Trim,
		"engine":        v.Engine,
		"notes":         v.Notes,
		"created_at_ms": v.CreatedAt.UnixMilli(),
	}
}

func vehicleFromRecord(rec *neo4j.Record) (domain.Vehicle, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Vehicle{}, err
	}
	p := node.Props
	v := domain.Vehicle{
		ID:       strProp(p, "id"),
		UserID:   strProp(p, "user_id"),
		Make:     strProp(p, "make"),
		Model:    strProp(p, "model"),
		Year:     int(intProp(p, "year")),
		Nickname: strProp(p, "nickname"),
		Trim:     strProp(p, "trim"),
		Engine:   strProp(p, "engine"),
		Notes:    strProp(p, "notes"),
	}
	if ms := intProp(p, "created_at_ms"); ms > 0 {
		v.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return v, nil
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch n := props[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
