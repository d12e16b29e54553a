package domain

// Block carries the header fields the pool's liveness probes and
// confirmation tracking need.
type Block struct {
	ChainID    ChainID
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  uint64
}
