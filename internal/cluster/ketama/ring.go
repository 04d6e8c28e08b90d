package ketama

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

const (
	hashesPerNode = 40
	pointsPerHash = md5.Size / 4

	// PointsPerNode is the number of ring points every node contributes.
	PointsPerNode = hashesPerNode * pointsPerHash
)

type point struct {
	position uint32
	node     *keyvaluestore.Node
}

// Ring is an immutable ketama consistent hash ring.
type Ring struct {
	points []point
	nodes  int
}

func New(nodes []*keyvaluestore.Node) *Ring {
	points := make([]point, 0, len(nodes)*PointsPerNode)

	for _, node := range nodes {
		for i := 0; i < hashesPerNode; i++ {
			digest := md5.Sum([]byte(fmt.Sprintf("%s-%d", node.ID, i)))

			for j := 0; j < pointsPerHash; j++ {
				points = append(points, point{
					position: binary.LittleEndian.Uint32(digest[j*4:]),
					node:     node,
				})
			}
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].position < points[j].position
	})

	return &Ring{
		points: points,
		nodes:  len(nodes),
	}
}

// Hash returns the ring position of key.
func Hash(key string) uint32 {
	digest := md5.Sum([]byte(key))
	return binary.LittleEndian.Uint32(digest[:4])
}

func (r *Ring) Len() int {
	return len(r.points)
}

// Locate returns the node owning key, or nil on an empty ring.
func (r *Ring) Locate(key string) *keyvaluestore.Node {
	if len(r.points) == 0 {
		return nil
	}

	return r.points[r.search(Hash(key))].node
}

// LocateLive walks the ring from the position of key and returns the first
// node that is not marked dead.
func (r *Ring) LocateLive(key string) *keyvaluestore.Node {
	if len(r.points) == 0 {
		return nil
	}

	start := r.search(Hash(key))
	seen := make(map[*keyvaluestore.Node]struct{}, r.nodes)

	for i := 0; i < len(r.points) && len(seen) < r.nodes; i++ {
		node := r.points[(start+i)%len(r.points)].node
		if _, ok := seen[node]; ok {
			continue
		}

		if !node.IsDead() {
			return node
		}
		seen[node] = struct{}{}
	}

	return nil
}

func (r *Ring) search(hash uint32) int {
	index := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].position >= hash
	})

	if index >= len(r.points) {
		index = 0
	}

	return index
}
