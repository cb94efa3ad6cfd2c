// 文件: pkg/event/id.go
// 雪花算法 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake

package event

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	initOnce sync.Once
	initErr  error
)

// InitSnowflake 初始化雪花算法
// nodeID: 节点ID (0-1023), 多实例部署时各不相同
func InitSnowflake(nodeID int64) error {
	initOnce.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// NextID 生成事件ID
func NextID() int64 {
	if node == nil {
		// 未初始化则使用默认节点0
		_ = InitSnowflake(0)
	}
	return node.Generate().Int64()
}
