// Package file implements the file-transfer state machine and manager:
// offering, accepting, rejecting, transferring, hashing, and finalizing
// files exchanged over a peer session's per-file binary channels.
//
// # Overview
//
// The package provides two primary components:
//
//   - File: one transfer's state machine (CREATED, HASHING, OFFERED,
//     QUEUED, TRANSFERRING, DONE, FAILED, REJECTED, CANCELLED) plus its
//     on-disk handle.
//   - Manager: tracks every File of the sessions it serves, assigns
//     per-file channel ids, runs hashing on a worker pool, and resolves
//     filename collisions on receive.
//
// # Outgoing offer
//
//	f, err := file.NewOutgoing("file-1", "conv-1", "contact-1", "identity-1", "/path/to/report.pdf")
//	mgr.Offer(f) // hashes in background, then transitions to OFFERED
//
// # Incoming accept
//
//	f = mgr.HandleOffer(offered) // offered built with file.NewIncoming
//	_, err = mgr.ResolveDestination(f, destDir)
//	channelID, err := mgr.Accept(f)
//	// write chunks with mgr.WriteChunk(f, data) as they arrive
package file
