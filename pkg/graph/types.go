package graph

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// EntityType is the closed set of node kinds the projections emit.
type EntityType string

const (
	EntityMember    EntityType = "Member"
	EntityDevice    EntityType = "Device"
	EntityGame      EntityType = "Game"
	EntityAffiliate EntityType = "Affiliate"
	EntityCurrency  EntityType = "Currency"
	EntityVipGroup  EntityType = "VipGroup"
	EntityError     EntityType = "Error"
	EntityPlatform  EntityType = "Platform"
	EntityPopup     EntityType = "Popup"
	EntityProvider  EntityType = "Provider"
)

// EntityTypes lists all entity types in canonical order.
var EntityTypes = []EntityType{
	EntityMember,
	EntityDevice,
	EntityGame,
	EntityAffiliate,
	EntityCurrency,
	EntityVipGroup,
	EntityError,
	EntityPlatform,
	EntityPopup,
	EntityProvider,
}

func ValidEntityType(t EntityType) bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EdgeType is the labelled relation between two nodes.
type EdgeType string

const (
	EdgeLoggedInFrom    EdgeType = "LoggedInFrom"
	EdgeOpenedGame      EdgeType = "OpenedGame"
	EdgeSawPopup        EdgeType = "SawPopup"
	EdgeHitError        EdgeType = "HitError"
	EdgeBelongsToGroup  EdgeType = "BelongsToGroup"
	EdgeReferredBy      EdgeType = "ReferredBy"
	EdgeUsesCurrency    EdgeType = "UsesCurrency"
	EdgePlaysOnPlatform EdgeType = "PlaysOnPlatform"
	EdgeProvidedBy      EdgeType = "ProvidedBy"
)

// NodeID is a 128-bit identifier derived deterministically from
// (entity_type, key), so the same logical entity observed in two
// segments maps to the same node.
type NodeID [16]byte

const (
	fnvPrime    = 0x100000001b3
	fnvOffsetLo = 0xcbf29ce484222325
	fnvOffsetHi = 0x517cc1b727220a95
)

func fnvFold(offset uint64, parts ...string) uint64 {
	h := offset
	for _, p := range parts {
		for i := 0; i < len(p); i++ {
			h ^= uint64(p[i])
			h *= fnvPrime
		}
	}
	return h
}

// NewNodeID hashes (entity_type, key) into a stable 16-byte id.
func NewNodeID(entityType EntityType, key string) NodeID {
	var id NodeID
	binary.BigEndian.PutUint64(id[0:8], fnvFold(fnvOffsetLo, string(entityType), key))
	binary.BigEndian.PutUint64(id[8:16], fnvFold(fnvOffsetHi, string(entityType), key))
	return id
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeID) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(decoded) != len(id) {
		return fmt.Errorf("node id must be %d bytes, got %d", len(id), len(decoded))
	}
	copy(id[:], decoded)
	return nil
}
