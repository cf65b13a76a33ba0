package driver

// IndexQueries are run once at startup. Memgraph rejects duplicates, which
// BuildIndices tolerates.
var IndexQueries = []string{
	"CREATE INDEX ON :Finding(fingerprint);",
	"CREATE INDEX ON :Job(id);",
	"CREATE INDEX ON :DeliveryFailure(fingerprint);",
}

const (
	CountFindingQuery = `
		MATCH (f:Finding {fingerprint: $fingerprint})
		RETURN count(f) AS n
	`

	// MarkFindingQuery is idempotent: the first delivery wins.
	MarkFindingQuery = `
		MERGE (j:Job {id: $job_id})
		MERGE (f:Finding {fingerprint: $fingerprint})
		ON CREATE SET f.block_id = $block_id,
			f.delivered_at = $delivered_at,
			f.attempts = $attempts,
			f.outcome = $outcome
		MERGE (j)-[:SURFACED]->(f)
		RETURN f.fingerprint AS fingerprint
	`

	RecordFailureQuery = `
		MERGE (j:Job {id: $job_id})
		CREATE (d:DeliveryFailure {
			fingerprint: $fingerprint,
			block_id: $block_id,
			failed_at: $failed_at,
			attempts: $attempts,
			outcome: $outcome,
			error: $error
		})
		CREATE (j)-[:FAILED_DELIVERY]->(d)
		RETURN d.fingerprint AS fingerprint
	`
)
