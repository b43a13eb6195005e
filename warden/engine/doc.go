// The violation escalation engine: turns classifier signals about chat messages, joins and
// nickname changes in to stateful, time-aware sanctions.
//
// The pieces, leaves first: ViolationLedger (per-user history with decay), CooldownGate,
// ExemptionPolicy, SeverityResolver (the escalation state machine), Executor (transport
// calls, delayed actions and auto-reversal), and Engine, which wires them together per
// event. Storage, transport, classifiers and scheduling are all injected, so the engine
// runs against in-memory fakes in tests (see EngineTestFixture).
package engine
