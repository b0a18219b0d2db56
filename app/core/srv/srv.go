package srv

import (
	"github.com/docgraph-ai/docgraph/pkg/ai"
	"github.com/docgraph-ai/docgraph/pkg/vector/qdrant"
)

type Srv struct {
	ai     *AI
	vector VectorIndex
}

type ApplyFunc func(*Srv)

func SetupSrvs(opts ...ApplyFunc) *Srv {
	a := &Srv{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (s *Srv) AI() *AI {
	return s.ai
}

func (s *Srv) Vector() VectorIndex {
	return s.vector
}

func ApplyVector(cfg qdrant.Config) ApplyFunc {
	return func(s *Srv) {
		s.vector = qdrant.New(cfg)
	}
}

// Tokens 返回配置模型的 token 估算器
func (s *Srv) Tokens() ai.Counter {
	return s.ai.Tokens()
}
