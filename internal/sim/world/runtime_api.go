package world

import "voxelinv.ai/internal/persistence/snapshot"

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- IntentEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Leave() chan<- LeaveRequest   { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Config returns the immutable world configuration.
func (w *World) Config() WorldConfig { return w.cfg }
