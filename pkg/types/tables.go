package types

import "fmt"

type TableName string

func (s TableName) Name() string {
	return fmt.Sprintf("%s%s", TABLE_PREFIX, s)
}

const TABLE_PREFIX = "dg_"

const (
	TABLE_WORKSPACE        = TableName("workspace")
	TABLE_SOURCE           = TableName("source")
	TABLE_DOCUMENT         = TableName("document")
	TABLE_DOCUMENT_VERSION = TableName("document_version")
	TABLE_CHUNK            = TableName("chunk")
	TABLE_TASK             = TableName("task")
	TABLE_CONVERSATION     = TableName("conversation")
	TABLE_MESSAGE          = TableName("message")
	TABLE_MEMORY_SUMMARY   = TableName("memory_summary")
)
