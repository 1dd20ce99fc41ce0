package kgstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	cfgpkg "idea2paper/internal/config"
	"idea2paper/internal/types"
)

// Neo4jKGStore is the live implementation of KGStore, grounded on the
// teacher's GraphStore (internal/knowledge/graph_store.go) Cypher
// patterns, adapted from its generic :Entity label to the engine's
// typed :Idea/:Pattern/:Domain/:Paper schema and USES_PATTERN /
// WORKS_WELL_IN / BELONGS_TO relationship types. Read-only: the engine
// never writes to the KG.
type Neo4jKGStore struct {
	c *client
}

// Open connects to the knowledge graph described by cfg and verifies
// connectivity. The KG is assumed pre-built (out of scope, spec §1).
func Open(ctx context.Context, cfg cfgpkg.KGConfig) (*Neo4jKGStore, error) {
	c, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Neo4jKGStore{c: c}, nil
}

// Close releases the underlying driver.
func (s *Neo4jKGStore) Close(ctx context.Context) error {
	return s.c.Close(ctx)
}

func (s *Neo4jKGStore) Ideas(ctx context.Context) ([]*types.Idea, error) {
	query := `
		MATCH (i:Idea)
		OPTIONAL MATCH (i)-[:USES_PATTERN]->(p:Pattern)
		RETURN i.idea_id as idea_id, i.description as description, collect(p.pattern_id) as pattern_ids
	`
	result, err := s.c.executeRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		ideas := []*types.Idea{}
		for res.Next(ctx) {
			r := res.Record()
			idea := &types.Idea{
				IdeaID:      types.InternIdeaID(types.IdeaId(asString(r.Values[0]))),
				Description: asString(r.Values[1]),
			}
			if raw, ok := r.Values[2].([]interface{}); ok {
				for _, v := range raw {
					if id := asString(v); id != "" {
						idea.PatternIDs = append(idea.PatternIDs, types.InternPatternID(types.PatternId(id)))
					}
				}
			}
			ideas = append(ideas, idea)
		}
		return ideas, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("kgstore: Ideas: %w", err)
	}
	return result.([]*types.Idea), nil
}

func (s *Neo4jKGStore) Patterns(ctx context.Context) ([]*types.Pattern, error) {
	query := `
		MATCH (p:Pattern)
		RETURN p.pattern_id as pattern_id, p.name as name, p.cluster_size as cluster_size,
		       p.domain as domain, p.sub_domains as sub_domains,
		       p.summary_representative_ideas as rep_ideas, p.summary_common_problems as common_problems,
		       p.summary_solution_approaches as solution_approaches, p.summary_story as story,
		       p.skeleton_examples as skeleton_examples, p.common_tricks as common_tricks
	`
	result, err := s.c.executeRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		patterns := []*types.Pattern{}
		for res.Next(ctx) {
			patterns = append(patterns, patternFromRecord(res.Record()))
		}
		return patterns, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("kgstore: Patterns: %w", err)
	}
	return result.([]*types.Pattern), nil
}

func (s *Neo4jKGStore) Domains(ctx context.Context) ([]*types.Domain, error) {
	query := `
		MATCH (d:Domain)
		RETURN d.domain_id as domain_id, d.name as name, d.sub_domains as sub_domains, d.paper_count as paper_count
	`
	result, err := s.c.executeRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		domains := []*types.Domain{}
		for res.Next(ctx) {
			domains = append(domains, domainFromRecord(res.Record()))
		}
		return domains, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("kgstore: Domains: %w", err)
	}
	return result.([]*types.Domain), nil
}

func (s *Neo4jKGStore) Papers(ctx context.Context) ([]*types.Paper, error) {
	query := `
		MATCH (p:Paper)
		OPTIONAL MATCH (p)-[:USES_PATTERN]->(pat:Pattern)
		RETURN p.paper_id as paper_id, p.title as title, pat.pattern_id as pattern_id,
		       p.domain_id as domain_id, p.avg_score10 as avg_score10,
		       p.review_count as review_count, p.dispersion10 as dispersion10
	`
	result, err := s.c.executeRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		papers := []*types.Paper{}
		for res.Next(ctx) {
			papers = append(papers, paperFromRecord(res.Record()))
		}
		return papers, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("kgstore: Papers: %w", err)
	}
	return result.([]*types.Paper), nil
}

func (s *Neo4jKGStore) PatternByID(ctx context.Context, id types.PatternId) (*types.Pattern, error) {
	query := `
		MATCH (p:Pattern {pattern_id: $id})
		RETURN p.pattern_id as pattern_id, p.name as name, p.cluster_size as cluster_size,
		       p.domain as domain, p.sub_domains as sub_domains,
		       p.summary_representative_ideas as rep_ideas, p.summary_common_problems as common_problems,
		       p.summary_solution_approaches as solution_approaches, p.summary_story as story,
		       p.skeleton_examples as skeleton_examples, p.common_tricks as common_tricks
	`
	result, err := s.c.executeRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": string(id)})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			return patternFromRecord(res.Record()), nil
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("pattern not found: %s", id)
	})
	if err != nil {
		return nil, fmt.Errorf("kgstore: PatternByID: %w", err)
	}
	return result.(*types.Pattern), nil
}

func (s *Neo4jKGStore) PaperByID(ctx context.Context, id types.PaperId) (*types.Paper, error) {
	query := `
		MATCH (p:Paper {paper_id: $id})
		OPTIONAL MATCH (p)-[:USES_PATTERN]->(pat:Pattern)
		RETURN p.paper_id as paper_id, p.title as title, pat.pattern_id as pattern_id,
		       p.domain_id as domain_id, p.avg_score10 as avg_score10,
		       p.review_count as review_count, p.dispersion10 as dispersion10
	`
	result, err := s.c.executeRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": string(id)})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			return paperFromRecord(res.Record()), nil
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("paper not found: %s", id)
	})
	if err != nil {
		return nil, fmt.Errorf("kgstore: PaperByID: %w", err)
	}
	return result.(*types.Paper), nil
}

func (s *Neo4jKGStore) DomainByID(ctx context.Context, id types.DomainId) (*types.Domain, error) {
	query := `
		MATCH (d:Domain {domain_id: $id})
		RETURN d.domain_id as domain_id, d.name as name, d.sub_domains as sub_domains, d.paper_count as paper_count
	`
	result, err := s.c.executeRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": string(id)})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			return domainFromRecord(res.Record()), nil
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("domain not found: %s", id)
	})
	if err != nil {
		return nil, fmt.Errorf("kgstore: DomainByID: %w", err)
	}
	return result.(*types.Domain), nil
}

// Neighbors returns the nodes reachable from node via relation, with
// typed edge attributes. Direction follows the canonical edge
// definitions in types.EdgeRelation (Paper->Pattern, Pattern->Domain,
// Idea->Domain).
func (s *Neo4jKGStore) Neighbors(ctx context.Context, node string, relation types.EdgeRelation) ([]NeighborEdge, error) {
	var query string
	switch relation {
	case types.RelUsesPattern:
		query = `
			MATCH (from {paper_id: $id})-[r:USES_PATTERN]->(to:Pattern)
			RETURN to.pattern_id as node_id, r.quality as quality
		`
	case types.RelWorksWellIn:
		query = `
			MATCH (from {pattern_id: $id})-[r:WORKS_WELL_IN]->(to:Domain)
			RETURN to.domain_id as node_id, r.effectiveness as effect, r.confidence as confid
		`
	case types.RelBelongsTo:
		query = `
			MATCH (from {idea_id: $id})-[r:BELONGS_TO]->(to:Domain)
			RETURN to.domain_id as node_id, r.weight as weight
		`
	default:
		return nil, fmt.Errorf("kgstore: unknown relation %q", relation)
	}

	result, err := s.c.executeRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": node})
		if err != nil {
			return nil, err
		}
		edges := []NeighborEdge{}
		for res.Next(ctx) {
			r := res.Record()
			e := NeighborEdge{NodeID: asString(r.Values[0]), Relation: relation}
			switch relation {
			case types.RelUsesPattern:
				e.Quality = asFloat64(r.Values[1])
			case types.RelWorksWellIn:
				e.Effect = asFloat64(r.Values[1])
				e.Confid = asFloat64(r.Values[2])
			case types.RelBelongsTo:
				e.Weight = asFloat64(r.Values[1])
			}
			edges = append(edges, e)
		}
		return edges, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("kgstore: Neighbors: %w", err)
	}
	return result.([]NeighborEdge), nil
}

func patternFromRecord(r *neo4j.Record) *types.Pattern {
	p := &types.Pattern{
		PatternID:   types.InternPatternID(types.PatternId(asString(r.Values[0]))),
		Name:        asString(r.Values[1]),
		ClusterSize: int(asFloat64(r.Values[2])),
		Domain:      types.InternDomainID(types.DomainId(asString(r.Values[3]))),
		SubDomains:  asStringSlice(r.Values[4]),
		Summary: types.PatternSummary{
			RepresentativeIdeas: asStringSlice(r.Values[5]),
			CommonProblems:      asStringSlice(r.Values[6]),
			SolutionApproaches:  asStringSlice(r.Values[7]),
			Story:               asString(r.Values[8]),
		},
	}
	if r.Values[9] != nil {
		p.SkeletonExamples = asStringSlice(r.Values[9])
	}
	if r.Values[10] != nil {
		p.CommonTricks = asStringSlice(r.Values[10])
	}
	return p
}

func domainFromRecord(r *neo4j.Record) *types.Domain {
	return &types.Domain{
		DomainID:   types.InternDomainID(types.DomainId(asString(r.Values[0]))),
		Name:       asString(r.Values[1]),
		SubDomains: asStringSlice(r.Values[2]),
		PaperCount: int(asFloat64(r.Values[3])),
	}
}

func paperFromRecord(r *neo4j.Record) *types.Paper {
	p := &types.Paper{
		PaperID:  types.InternPaperID(types.PaperId(asString(r.Values[0]))),
		Title:    asString(r.Values[1]),
		DomainID: types.InternDomainID(types.DomainId(asString(r.Values[3]))),
	}
	if pid := asString(r.Values[2]); pid != "" {
		id := types.InternPatternID(types.PatternId(pid))
		p.PatternID = &id
	}
	if r.Values[4] != nil {
		p.ReviewStats = &types.ReviewStats{
			AvgScore10:   asFloat64(r.Values[4]),
			ReviewCount:  int(asFloat64(r.Values[5])),
			Dispersion10: asFloat64(r.Values[6]),
		}
	}
	return p
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		out = append(out, asString(x))
	}
	return out
}
