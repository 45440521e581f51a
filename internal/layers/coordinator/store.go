package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/yaoml/rethinkdb/internal/contract"
	"github.com/yaoml/rethinkdb/internal/ids"
)

// stateStore persists a table's raft state and its ack inbox so the
// coordinator service survives a restart: a small interface backed by a
// bolt bucket, JSON-encoded values, ForEach for bootstrap load.
type stateStore interface {
	SaveState(contract.RaftState) error
	LoadState() (contract.RaftState, bool, error)
	SaveAck(server ids.ServerID, contractID ids.ContractID, ack contract.Ack) error
	DeleteAck(server ids.ServerID, contractID ids.ContractID) error
	ForEachAck(func(ids.ServerID, ids.ContractID, contract.Ack) error) error
	Close() error
}

type boltStateStore struct {
	db *bolt.DB
}

const (
	boltFileName    = "coordinator.meta"
	boltStateBucket = "state"
	boltAckBucket   = "acks"
	stateKey        = "current"
)

func newBoltStateStore(dir string) (*boltStateStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("coordinator directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	filePath := filepath.Join(dir, boltFileName)
	db, err := bolt.Open(filePath, 0o600, &bolt.Options{Timeout: 0})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(boltStateBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(boltAckBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStateStore{db: db}, nil
}

func (b *boltStateStore) SaveState(state contract.RaftState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal raft state: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltStateBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s missing", boltStateBucket)
		}
		return bucket.Put([]byte(stateKey), data)
	})
}

func (b *boltStateStore) LoadState() (contract.RaftState, bool, error) {
	var out contract.RaftState
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltStateBucket))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(stateKey))
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("unmarshal raft state: %w", err)
		}
		found = true
		return nil
	})
	return out, found, err
}

func ackKeyBytes(server ids.ServerID, contractID ids.ContractID) []byte {
	return []byte(fmt.Sprintf("%s|%s", server, contractID))
}

func parseAckKey(key []byte) (ids.ServerID, ids.ContractID, error) {
	parts := strings.SplitN(string(key), "|", 2)
	if len(parts) != 2 {
		return "", ids.ContractID{}, fmt.Errorf("malformed ack key %q", key)
	}
	var cid ids.ContractID
	if err := cid.UnmarshalText([]byte(parts[1])); err != nil {
		return "", ids.ContractID{}, err
	}
	return ids.ServerID(parts[0]), cid, nil
}

func (b *boltStateStore) SaveAck(server ids.ServerID, contractID ids.ContractID, ack contract.Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("marshal ack: %w", err)
	}
	key := ackKeyBytes(server, contractID)
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltAckBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s missing", boltAckBucket)
		}
		return bucket.Put(key, data)
	})
}

func (b *boltStateStore) DeleteAck(server ids.ServerID, contractID ids.ContractID) error {
	key := ackKeyBytes(server, contractID)
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltAckBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s missing", boltAckBucket)
		}
		return bucket.Delete(key)
	})
}

func (b *boltStateStore) ForEachAck(fn func(ids.ServerID, ids.ContractID, contract.Ack) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltAckBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			server, contractID, err := parseAckKey(k)
			if err != nil {
				return err
			}
			var ack contract.Ack
			if err := json.Unmarshal(v, &ack); err != nil {
				return fmt.Errorf("unmarshal ack %q: %w", k, err)
			}
			return fn(server, contractID, ack)
		})
	})
}

func (b *boltStateStore) Close() error {
	return b.db.Close()
}
