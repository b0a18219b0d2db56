package i18n

var ALLOW_LANG = map[string]bool{
	"en":    true,
	"zh-CN": true,
}

const DEFAULT_LANG = "en"

const (
	ERROR_INTERNAL            = "error.internal"
	ERROR_NOT_FOUND           = "error.notfound"
	ERROR_INVALIDARGUMENT     = "error.invalidargument"
	ERROR_EXIST               = "error.exist"
	ERROR_FORBIDDEN           = "error.forbidden"
	ERROR_TOO_MANY_REQUESTS   = "error.tooManyRequests"
	ERROR_UNSUPPORTED_FEATURE = "error.unsupported.feature"

	ERROR_WORKSPACE_NOT_FOUND    = "error.workspace.not.found"
	ERROR_DOCUMENT_NOT_FOUND     = "error.document.not.found"
	ERROR_DOCUMENT_EMPTY_CONTENT = "error.document.empty.content"
	ERROR_TASK_NOT_FOUND         = "error.task.not.found"
	ERROR_TASK_NOT_CANCELABLE    = "error.task.not.cancelable"
	ERROR_CONVERSATION_NOT_FOUND = "error.conversation.not.found"
	ERROR_CONVERSATION_BUSY      = "error.conversation.busy"

	ERROR_AI_GENERATE_FAILED       = "error.ai.generate.failed"
	ERROR_AI_EMBEDDING_FAILED      = "error.ai.embedding.failed"
	ERROR_VECTOR_INDEX_UNAVAILABLE = "error.vector.index.unavailable"
)
