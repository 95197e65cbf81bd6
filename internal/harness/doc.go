// Package harness runs conformance scenarios against a fresh store and
// fetch client backed by a scripted mock backend.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: cache_first
//	description: "A tracked request is served without a second call"
//	schema: ../schemas/blog.yaml       # or an inline `resources:` block
//	routes:
//	  - method: GET
//	    url: /articles
//	    data: [{id: a1, title: First}]
//	seed:
//	  - kind: UPDATE_SUCCEEDED
//	    resource_type: users
//	    request_key: seeded
//	    payload: {id: u1, name: Ada}
//	steps:
//	  - query: {name: list, url: /articles, policy: cache-first}
//	  - expect: {query: list, loading: true, status: PENDING}
//	  - settle: true
//	  - expect: {query: list, ids: [a1], calls: {"GET /articles": 1}}
//	assertions:
//	  - type: trace_count
//	    kind: UPDATE_SUCCEEDED
//	    count: 1
//
// # Steps
//
//   - query: create a named query (url, method, params, key, policy, included)
//   - mutate: start a named mutation (method, url, body, insert_into)
//   - refetch: force a network cycle for a named query
//   - settle: complete every parked network call and apply the results
//   - dispatch: commit a raw store action
//   - expect: check a named query or mutation
//
// Network calls are parked until a settle step, so the in-flight state of
// every query is observable between steps.
//
// # Assertion Types
//
//   - trace_contains: a transition of kind (and request) was committed
//   - trace_order: transition kinds appear in the given order
//   - trace_count: a transition kind was committed exactly N times
//   - final_state: an entity exists (or not) with the expected fields
//
// # Deterministic Traces
//
// Every committed transition becomes one TraceLine. Request keys are
// replaced by the scenario's query and mutation names, so traces are
// stable across runs and readable in golden files (see RunWithGolden).
package harness
