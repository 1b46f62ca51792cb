package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
	agerrors "github.com/auditgraph/auditgraph-backend/internal/pkg/errors"
	"github.com/auditgraph/auditgraph-backend/internal/pkg/ctxutil"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/platform/neo4jdb"
)

// Node property keys reserved for bookkeeping; everything else on a node
// is domain payload.
const (
	keyID          = "id"
	keyBusinessKey = "business_key"
	keyCreatedAt   = "created_at"
	keyUpdatedAt   = "updated_at"
	keyProvenance  = "provenance_json"
)

var reservedKeys = map[string]bool{
	keyID: true, keyBusinessKey: true, keyCreatedAt: true, keyUpdatedAt: true, keyProvenance: true,
}

// Store is the typed persistence layer over Neo4j. All writes for one
// document run go through a single WithWriteTx call so a half-ingested
// document can never become visible.
type Store struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewStore(client *neo4jdb.Client, log *logger.Logger) (*Store, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph: neo4j client required")
	}
	if log == nil {
		return nil, fmt.Errorf("graph: logger required")
	}
	return &Store{client: client, log: log.With("service", "GraphStore")}, nil
}

// Tx exposes the typed operations valid inside one write transaction.
type Tx struct {
	tx neo4j.ManagedTransaction
}

// WithWriteTx runs fn inside one managed write transaction. Any error from
// fn rolls the whole transaction back.
func (s *Store) WithWriteTx(ctx context.Context, fn func(tx *Tx) error) error {
	ctx = ctxutil.Default(ctx)
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(mtx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&Tx{tx: mtx})
	})
	if err != nil {
		return wrapPersistence("write_tx", err)
	}
	return nil
}

// read runs a read-mode query and materializes all records.
func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	ctx = ctxutil.Default(ctx)
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	recs, err := session.ExecuteRead(ctx, func(mtx neo4j.ManagedTransaction) (any, error) {
		res, err := mtx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, wrapPersistence("read", err)
	}
	return recs.([]*neo4j.Record), nil
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctxutil.Default(ctx), cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctxutil.Default(ctx))
	return err
}

// EnsureSchema creates uniqueness constraints per entity label. Best
// effort: failures are logged and ingestion proceeds without them.
func (s *Store) EnsureSchema(ctx context.Context) {
	ctx = ctxutil.Default(ctx)
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	for _, et := range domain.AllEntityTypes {
		q := fmt.Sprintf(
			`CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE`,
			domain.NormalizeKey(string(et)), et,
		)
		if res, err := session.Run(ctx, q, nil); err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "label", string(et), "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// safeLabel guards dynamic label interpolation. Labels come from the
// closed EntityType set, but pattern queries accept caller input.
func safeLabel(label string) (string, error) {
	if !labelPattern.MatchString(label) {
		return "", &agerrors.ValidationError{Field: "label", Message: fmt.Sprintf("invalid label %q", label)}
	}
	return label, nil
}

func wrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &agerrors.GraphPersistenceError{Op: op, Message: "neo4j operation failed", Cause: err}
}

func notFound(op, what string) error {
	return &agerrors.GraphPersistenceError{Op: op, Message: what, NotFound: true}
}

// ---- node <-> entity mapping ----

func entityNodeProps(e *domain.Entity, businessKey string) (map[string]any, error) {
	provJSON, err := json.Marshal(e.Provenance)
	if err != nil {
		return nil, fmt.Errorf("marshal provenance: %w", err)
	}
	props := map[string]any{
		keyID:          e.ID,
		keyBusinessKey: businessKey,
		keyCreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		keyUpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		keyProvenance:  string(provJSON),
	}
	for k, v := range e.Properties {
		if reservedKeys[k] {
			continue
		}
		props[k] = v
	}
	return props, nil
}

func entityFromNode(node neo4j.Node) *domain.Entity {
	et := domain.EntityType("")
	for _, label := range node.Labels {
		if parsed, ok := domain.ParseEntityType(label); ok {
			et = parsed
			break
		}
	}

	e := &domain.Entity{
		Type:       et,
		Properties: map[string]any{},
	}
	for k, v := range node.Props {
		switch k {
		case keyID:
			e.ID, _ = v.(string)
		case keyBusinessKey:
			// bookkeeping, recomputable from properties
		case keyCreatedAt:
			e.CreatedAt = parseTime(v)
		case keyUpdatedAt:
			e.UpdatedAt = parseTime(v)
		case keyProvenance:
			if raw, ok := v.(string); ok && raw != "" {
				_ = json.Unmarshal([]byte(raw), &e.Provenance)
			}
		default:
			e.Properties[k] = v
		}
	}
	return e
}

func parseTime(v any) time.Time {
	if raw, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t
		}
	}
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
