// Package graph is the illustrative, out-of-scope adapter surface (part of
// component G) for a project-scoped asset/finding property graph: which
// targets a mission touched, what it found on each, and how those assets
// relate (subdomain-of, resolves-to, hosts). The Core never requires this
// package — internal/mission never imports it — it exists to show how a
// concrete graph-store adapter would plug into the Adapter surface,
// grounded on basegraphhq/basegraph's arangodb.Client.
//
// Per the Open Question decision recorded in DESIGN.md, every query method
// takes typed, parameterized arguments; no caller ever builds or
// concatenates AQL strings.
package graph

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
)

// ErrNotFound indicates the requested asset does not exist in the graph.
var ErrNotFound = errors.New("graph: asset not found")

// AssetKind enumerates the node kinds a mission can discover and relate.
type AssetKind string

const (
	KindDomain   AssetKind = "domain"
	KindSubdomain AssetKind = "subdomain"
	KindIP       AssetKind = "ip"
	KindService  AssetKind = "service"
	KindFinding  AssetKind = "finding"
)

// RelationKind enumerates edge collections in the mission graph.
type RelationKind string

const (
	RelationResolvesTo  RelationKind = "resolves_to"  // subdomain/domain -> ip
	RelationSubdomainOf RelationKind = "subdomain_of" // subdomain -> domain
	RelationHosts       RelationKind = "hosts"        // ip -> service
	RelationAffects     RelationKind = "affects"      // finding -> asset
)

// Asset is one node in the mission graph.
type Asset struct {
	QName     string // stable identifier, e.g. "domain:example.com"
	MissionID string
	Kind      AssetKind
	Label     string
	DiscoveredAt time.Time
}

// Relation is one edge in the mission graph.
type Relation struct {
	From       string
	To         string
	Kind       RelationKind
	MissionID  string
	Properties map[string]any
}

// Neighbor is a graph traversal result row.
type Neighbor struct {
	QName string
	Kind  AssetKind
	Label string
}

// Store is the narrow contract the Core (or any operator tooling) consumes
// from the graph store. Every read takes typed arguments; the adapter is
// responsible for safely parameterizing the underlying query.
type Store interface {
	EnsureSchema(ctx context.Context) error
	UpsertAsset(ctx context.Context, a Asset) error
	UpsertRelation(ctx context.Context, r Relation) error
	// Neighbors returns assets reachable from qname within depth hops,
	// optionally restricted to the given relation kinds (nil means any).
	Neighbors(ctx context.Context, qname string, depth int, kinds []RelationKind) ([]Neighbor, error)
	Close() error
}

// Config configures the ArangoDB connection for the illustrative adapter.
type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("graph: URL is required")
	}
	if c.Database == "" {
		return fmt.Errorf("graph: database name is required")
	}
	return nil
}

const graphName = "sentryai_mission_graph"

var assetCollections = []string{"domain", "subdomain", "ip", "service", "finding"}
var relationCollections = []string{"resolves_to", "subdomain_of", "hosts", "affects"}

type client struct {
	conn connection.Connection
	arangoClient arangodb.Client
	db   arangodb.Database
	cfg  Config
}

// New dials an ArangoDB cluster and returns a Store backed by it. Callers
// must call EnsureSchema once before first use.
func New(cfg Config) (Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))
	if cfg.Username != "" {
		if err := conn.SetAuthentication(connection.NewBasicAuth(cfg.Username, cfg.Password)); err != nil {
			return nil, fmt.Errorf("graph: auth: %w", err)
		}
	}
	return &client{conn: conn, arangoClient: arangodb.NewClient(conn), cfg: cfg}, nil
}

func (c *client) Close() error { return nil }

// EnsureSchema creates the database, node/edge collections, and the named
// graph if they do not already exist.
func (c *client) EnsureSchema(ctx context.Context) error {
	exists, err := c.arangoClient.DatabaseExists(ctx, c.cfg.Database)
	if err != nil {
		return fmt.Errorf("graph: check database: %w", err)
	}
	if !exists {
		if _, err := c.arangoClient.CreateDatabase(ctx, c.cfg.Database, nil); err != nil {
			return fmt.Errorf("graph: create database: %w", err)
		}
	}
	db, err := c.arangoClient.GetDatabase(ctx, c.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("graph: get database: %w", err)
	}
	c.db = db

	for _, name := range assetCollections {
		if err := c.ensureCollection(ctx, name, false); err != nil {
			return err
		}
	}
	for _, name := range relationCollections {
		if err := c.ensureCollection(ctx, name, true); err != nil {
			return err
		}
	}

	exists, err = c.db.GraphExists(ctx, graphName)
	if err != nil {
		return fmt.Errorf("graph: check graph: %w", err)
	}
	if exists {
		return nil
	}
	def := &arangodb.GraphDefinition{
		Name: graphName,
		EdgeDefinitions: []arangodb.EdgeDefinition{
			{Collection: "resolves_to", From: []string{"subdomain", "domain"}, To: []string{"ip"}},
			{Collection: "subdomain_of", From: []string{"subdomain"}, To: []string{"domain"}},
			{Collection: "hosts", From: []string{"ip"}, To: []string{"service"}},
			{Collection: "affects", From: []string{"finding"}, To: []string{"domain", "subdomain", "ip", "service"}},
		},
	}
	if _, err := c.db.CreateGraph(ctx, graphName, def, nil); err != nil {
		return fmt.Errorf("graph: create graph: %w", err)
	}
	return nil
}

func (c *client) ensureCollection(ctx context.Context, name string, isEdge bool) error {
	exists, err := c.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("graph: check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	props := &arangodb.CreateCollectionPropertiesV2{}
	colType := arangodb.CollectionTypeDocument
	if isEdge {
		colType = arangodb.CollectionTypeEdge
	}
	props.Type = &colType
	if _, err := c.db.CreateCollectionV2(ctx, name, props); err != nil {
		return fmt.Errorf("graph: create collection %s: %w", name, err)
	}
	return nil
}

// UpsertAsset inserts or replaces an asset node.
func (c *client) UpsertAsset(ctx context.Context, a Asset) error {
	if c.db == nil {
		return fmt.Errorf("graph: schema not initialized, call EnsureSchema first")
	}
	col, err := c.db.GetCollection(ctx, string(a.Kind), nil)
	if err != nil {
		return fmt.Errorf("graph: get collection %s: %w", a.Kind, err)
	}
	doc := map[string]any{
		"_key":         makeKey(a.QName),
		"qname":        a.QName,
		"mission_id":   a.MissionID,
		"kind":         string(a.Kind),
		"label":        a.Label,
		"discovered_at": a.DiscoveredAt,
	}
	_, err = col.CreateDocumentWithOptions(ctx, doc, &arangodb.CollectionDocumentCreateOptions{OverwriteMode: arangodb.UtilTypeString(arangodb.CollectionDocumentCreateOverwriteModeReplace)})
	if err != nil {
		return fmt.Errorf("graph: upsert asset %s: %w", a.QName, err)
	}
	return nil
}

// UpsertRelation inserts or replaces an edge between two assets already
// upserted via UpsertAsset.
func (c *client) UpsertRelation(ctx context.Context, r Relation) error {
	if c.db == nil {
		return fmt.Errorf("graph: schema not initialized, call EnsureSchema first")
	}
	col, err := c.db.GetCollection(ctx, string(r.Kind), nil)
	if err != nil {
		return fmt.Errorf("graph: get collection %s: %w", r.Kind, err)
	}
	fromCol, toCol := relationEndpointCollections(r.Kind)
	doc := map[string]any{
		"_key":       makeEdgeKey(r.From, r.To, string(r.Kind)),
		"_from":      fmt.Sprintf("%s/%s", fromCol, makeKey(r.From)),
		"_to":        fmt.Sprintf("%s/%s", toCol, makeKey(r.To)),
		"mission_id": r.MissionID,
	}
	for k, v := range r.Properties {
		doc[k] = v
	}
	_, err = col.CreateDocumentWithOptions(ctx, doc, &arangodb.CollectionDocumentCreateOptions{OverwriteMode: arangodb.UtilTypeString(arangodb.CollectionDocumentCreateOverwriteModeReplace)})
	if err != nil {
		return fmt.Errorf("graph: upsert relation %s->%s: %w", r.From, r.To, err)
	}
	return nil
}

// Neighbors runs a bounded graph traversal from qname, using bind
// variables for every caller-supplied value (qname, depth, edge
// collections) — never string-concatenated into the query.
func (c *client) Neighbors(ctx context.Context, qname string, depth int, kinds []RelationKind) ([]Neighbor, error) {
	if c.db == nil {
		return nil, fmt.Errorf("graph: schema not initialized, call EnsureSchema first")
	}
	if depth <= 0 {
		depth = 1
	}
	edgeCollections := make([]string, 0, len(kinds))
	for _, k := range kinds {
		edgeCollections = append(edgeCollections, string(k))
	}

	query := `
		FOR v IN 1..@depth ANY @start GRAPH @graph
			OPTIONS { edgeCollections: @edgeCollections }
			LIMIT 100
			RETURN { qname: v.qname, kind: v.kind, label: v.label }
	`
	bindVars := map[string]any{
		"start":           startVertexID(qname),
		"depth":           depth,
		"graph":           graphName,
		"edgeCollections": edgeCollections,
	}
	cursor, err := c.db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors query: %w", err)
	}
	defer cursor.Close()

	var out []Neighbor
	for cursor.HasMore() {
		var doc struct {
			QName string `json:"qname"`
			Kind  string `json:"kind"`
			Label string `json:"label"`
		}
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("graph: read neighbor: %w", err)
		}
		if doc.QName == "" {
			continue
		}
		out = append(out, Neighbor{QName: doc.QName, Kind: AssetKind(doc.Kind), Label: doc.Label})
	}
	return out, nil
}

func relationEndpointCollections(kind RelationKind) (from, to string) {
	switch kind {
	case RelationResolvesTo:
		return "subdomain", "ip"
	case RelationSubdomainOf:
		return "subdomain", "domain"
	case RelationHosts:
		return "ip", "service"
	case RelationAffects:
		return "finding", "domain"
	default:
		return "domain", "domain"
	}
}

// startVertexID resolves qname to a vertex id in the domain collection. It
// does not look in any other collection, so a traversal from a qname of
// another kind starts at a vertex that does not exist.
func startVertexID(qname string) string {
	return fmt.Sprintf("domain/%s", makeKey(qname))
}

func makeKey(qname string) string {
	sum := md5.Sum([]byte(qname))
	return hex.EncodeToString(sum[:])[:16]
}

func makeEdgeKey(from, to, kind string) string {
	sum := md5.Sum([]byte(kind + ":" + from + "->" + to))
	return hex.EncodeToString(sum[:])[:16]
}
