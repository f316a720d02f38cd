// Package codegen produces coupon codes from snowflake ids, so codes are
// unique across workers as long as each worker has its own node id.
package codegen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

const codePrefix = "CPN-"

type Generator struct {
	node *snowflake.Node
}

// New returns a generator for the given node id (0..1023).
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

func (g *Generator) NewCode() string {
	return codePrefix + g.node.Generate().Base58()
}
