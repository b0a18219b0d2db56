package protocol

import "fmt"

// REDIS_CACHE_KEY_PREFIX redis cache key generator
const (
	REDIS_CACHE_KEY_PREFIX = "docgraph_"
)

// GenConversationMessagesKey docgraph_convo:{id}:messages 最近消息列表
func GenConversationMessagesKey(conversationID string) string {
	return fmt.Sprintf("%sconvo:%s:messages", REDIS_CACHE_KEY_PREFIX, conversationID)
}

// GenConversationSummaryKey docgraph_convo:{id}:summary 摘要缓存
func GenConversationSummaryKey(conversationID string) string {
	return fmt.Sprintf("%sconvo:%s:summary", REDIS_CACHE_KEY_PREFIX, conversationID)
}

// GenConversationLockKey docgraph_lock:convo:{id} 会话串行化锁
func GenConversationLockKey(conversationID string) string {
	return fmt.Sprintf("%slock:convo:%s", REDIS_CACHE_KEY_PREFIX, conversationID)
}
