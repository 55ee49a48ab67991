package cvopt

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	trialsBucket     = "trials"
	estimatorsBucket = "estimators"
)

// artifactStore persists trial records and fitted-estimator snapshots for
// one run. Each run gets its own BoltDB file, <LogDir>/<ModelID>.db, with a
// bucket per artifact kind. Trials are stored as JSON, estimator snapshots
// as gob blobs of the concrete estimator type.
type artifactStore struct {
	db      *bbolt.DB
	modelID string
}

func openArtifactStore(dir, modelID string) (*artifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cvopt: create log dir: %w", err)
	}
	path := filepath.Join(dir, modelID+".db")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cvopt: open artifact store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(trialsBucket)); err != nil {
			return fmt.Errorf("create trials bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(estimatorsBucket)); err != nil {
			return fmt.Errorf("create estimators bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &artifactStore{db: db, modelID: modelID}, nil
}

func (s *artifactStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTrial appends one trial record. Keys are zero-padded indices so a
// cursor walk returns submission order.
func (s *artifactStore) SaveTrial(t Trial) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(trialsBucket))
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal trial: %w", err)
		}
		key := fmt.Sprintf("%s_%08d", s.modelID, t.Index)
		return b.Put([]byte(key), data)
	})
}

// Trials loads every stored trial record in key order.
func (s *artifactStore) Trials() ([]Trial, error) {
	var trials []Trial
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(trialsBucket))
		return b.ForEach(func(_, v []byte) error {
			var t Trial
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshal trial: %w", err)
			}
			trials = append(trials, t)
			return nil
		})
	})
	return trials, err
}

// SaveFoldEstimator stores the estimator fitted on one fold of one trial.
func (s *artifactStore) SaveFoldEstimator(trialIndex, fold int, est Estimator) error {
	key := fmt.Sprintf("%s_index%d_split%d", s.modelID, trialIndex, fold)
	return s.saveEstimator(key, est)
}

// SaveTestEstimator stores the estimator fitted on the whole training set
// for one trial.
func (s *artifactStore) SaveTestEstimator(trialIndex int, est Estimator) error {
	key := fmt.Sprintf("%s_index%d_test", s.modelID, trialIndex)
	return s.saveEstimator(key, est)
}

func (s *artifactStore) saveEstimator(key string, est Estimator) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(est); err != nil {
		return fmt.Errorf("encode estimator %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(estimatorsBucket)).Put([]byte(key), buf.Bytes())
	})
}

// LoadEstimator decodes a stored snapshot into dst, which must be a pointer
// to the concrete estimator type that was saved.
func (s *artifactStore) LoadEstimator(key string, dst any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(estimatorsBucket)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("cvopt: no estimator snapshot %q", key)
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(dst)
	})
}
