// Package types defines the entities persisted by the memory store and
// the unified error taxonomy shared by every component.
//
// Entities map one to one onto the six persisted tables:
//
//   - [Memory] — memories
//   - [MemoryAccessLogEntry] — memory_access_log
//   - [MemoryRelationship] — memory_relationships
//   - [PersonaAttribute] — persona_memories
//   - [SelfReflection] — self_reflections
//   - [EmotionalReflection] — emotional_reflections
//
// [PersonaValue] is the tagged variant used for persona attribute values;
// it serializes to the persisted text column in its natural JSON form.
//
// Score-like fields are clamped on write: importance and confidence to
// [0, 1] via [Clamp01], mood to [-1, 1] via [ClampMood].
package types
