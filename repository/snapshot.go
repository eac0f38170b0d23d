package repository

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/syndtr/goleveldb/leveldb/util"

	"stake-group/db"
	"stake-group/models"
)

// ErrBackdated is returned when recording at a height below the latest entry
var ErrBackdated = errors.New("snapshot: height below latest entry")

// Weight history is kept as one ordered run of keys per member,
// member_log/<len><addr><height>, plus total_log/<height> for the total.
// Heights are big endian so LevelDB's key order is height order and a
// point-in-time read is a seek to the last key at or below the height.
// The latest entry of each run is mirrored under members/<addr> and
// total so current values are a single Get.

type head struct {
	height uint64
	weight uint64
}

func (h head) encode() []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], h.height)
	binary.BigEndian.PutUint64(buf[8:], h.weight)
	return buf[:]
}

func decodeHead(data []byte) (head, error) {
	if len(data) != 16 {
		return head{}, fmt.Errorf("snapshot: corrupt head entry of %d bytes", len(data))
	}
	return head{
		height: binary.BigEndian.Uint64(data[:8]),
		weight: binary.BigEndian.Uint64(data[8:]),
	}, nil
}

// memberLogPrefix is member_log/<uvarint len><addr>. The uvarint length is
// prefix free, so no member's run falls inside another member's prefix.
func memberLogPrefix(addr string) []byte {
	key := make([]byte, 0, len(prefixMemberLog)+binary.MaxVarintLen64+len(addr)+8)
	key = append(key, prefixMemberLog...)
	key = binary.AppendUvarint(key, uint64(len(addr)))
	return append(key, addr...)
}

func heightKey(prefix []byte, height uint64) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	return binary.BigEndian.AppendUint64(key, height)
}

// RecordWeight appends weight for addr at height. Recording the current
// weight again is skipped; recorded reports whether an entry was written.
// Several records at one height collapse into the last one.
func (r *Repository) RecordWeight(addr string, height, weight uint64) (recorded bool, err error) {
	return r.record(addrKey(prefixMembers, addr), memberLogPrefix(addr), height, weight)
}

// RecordTotal appends the group's total weight at height
func (r *Repository) RecordTotal(height, total uint64) (bool, error) {
	return r.record(keyTotal, prefixTotalLog, height, total)
}

func (r *Repository) record(headKey, logPrefix []byte, height, weight uint64) (bool, error) {
	cur, found, err := r.head(headKey)
	if err != nil {
		return false, err
	}
	if found {
		if height < cur.height {
			return false, fmt.Errorf("%w: %d < %d", ErrBackdated, height, cur.height)
		}
		if cur.weight == weight {
			return false, nil
		}
	} else if weight == 0 {
		// absent already reads as zero
		return false, nil
	}

	if err := r.kv.Put(heightKey(logPrefix, height), encodeUint64(weight)); err != nil {
		return false, err
	}
	if err := r.kv.Put(headKey, head{height: height, weight: weight}.encode()); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) head(key []byte) (head, bool, error) {
	data, err := r.kv.Get(key)
	if errors.Is(err, db.ErrNotFound) {
		return head{}, false, nil
	}
	if err != nil {
		return head{}, false, err
	}
	h, err := decodeHead(data)
	return h, err == nil, err
}

// Weight returns the current weight of addr, zero for unknown members
func (r *Repository) Weight(addr string) (uint64, error) {
	h, _, err := r.head(addrKey(prefixMembers, addr))
	return h.weight, err
}

// Total returns the current total weight
func (r *Repository) Total() (uint64, error) {
	h, _, err := r.head(keyTotal)
	return h.weight, err
}

// WeightAt returns the weight of addr as of height: the latest entry
// recorded at or below height, zero if there is none.
func (r *Repository) WeightAt(addr string, height uint64) (uint64, error) {
	return r.valueAt(memberLogPrefix(addr), height)
}

// TotalAt returns the total weight as of height
func (r *Repository) TotalAt(height uint64) (uint64, error) {
	return r.valueAt(prefixTotalLog, height)
}

func (r *Repository) valueAt(logPrefix []byte, height uint64) (uint64, error) {
	rng := util.BytesPrefix(logPrefix)
	if height < math.MaxUint64 {
		rng.Limit = heightKey(logPrefix, height+1)
	}
	iter := r.kv.NewIterator(rng)
	defer iter.Release()

	if !iter.Last() {
		return 0, iter.Error()
	}
	value := iter.Value()
	if len(value) != 8 {
		return 0, fmt.Errorf("snapshot: corrupt log entry of %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// Members returns up to limit members with positive current weight whose
// address sorts strictly after startAfter, ordered by address.
func (r *Repository) Members(startAfter *string, limit int) ([]models.Member, error) {
	rng := util.BytesPrefix(prefixMembers)
	if startAfter != nil {
		// the smallest key greater than members/<startAfter>
		rng.Start = append(addrKey(prefixMembers, *startAfter), 0)
	}
	iter := r.kv.NewIterator(rng)
	defer iter.Release()

	members := []models.Member{}
	for len(members) < limit && iter.Next() {
		h, err := decodeHead(iter.Value())
		if err != nil {
			return nil, err
		}
		if h.weight == 0 {
			continue
		}
		members = append(members, models.Member{
			Addr:   string(iter.Key()[len(prefixMembers):]),
			Weight: h.weight,
		})
	}
	return members, iter.Error()
}
