package domain

import (
	"sort"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "domain")

// ReplicaStorage owns the per-key replicas of one kind. Replicas are created on
// first reference and dropped as a whole on teardown.
type ReplicaStorage[K comparable, V any] struct {
	storage map[K]V
	factory func(K) V
}

func NewReplicaStorage[K comparable, V any](factory func(K) V) *ReplicaStorage[K, V] {
	return &ReplicaStorage[K, V]{
		storage: make(map[K]V),
		factory: factory,
	}
}

func (s *ReplicaStorage[K, V]) GetOrCreate(key K) V {
	if replica, ok := s.storage[key]; ok {
		return replica
	}

	replica := s.factory(key)
	s.storage[key] = replica
	return replica
}

func (s *ReplicaStorage[K, V]) Add(key K, replica V) {
	s.storage[key] = replica
}

func (s *ReplicaStorage[K, V]) Lookup(key K) (V, bool) {
	replica, ok := s.storage[key]
	return replica, ok
}

func (s *ReplicaStorage[K, V]) Has(key K) bool {
	_, ok := s.storage[key]
	return ok
}

func (s *ReplicaStorage[K, V]) Delete(key K) {
	delete(s.storage, key)
}

func (s *ReplicaStorage[K, V]) Each(fn func(K, V)) {
	for k, v := range s.storage {
		fn(k, v)
	}
}

// Keys are returned sorted by less so callers get a stable order.
func (s *ReplicaStorage[K, V]) Keys(less func(a, b K) bool) []K {
	keys := make([]K, 0, len(s.storage))
	for k := range s.storage {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}

func (s *ReplicaStorage[K, V]) Count() int {
	return len(s.storage)
}

func (s *ReplicaStorage[K, V]) Clear() {
	s.storage = make(map[K]V)
}
