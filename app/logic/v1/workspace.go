package v1

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/pkg/errors"
	"github.com/docgraph-ai/docgraph/pkg/i18n"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

type WorkspaceLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewWorkspaceLogic(ctx context.Context, core *core.Core) *WorkspaceLogic {
	return &WorkspaceLogic{
		ctx:  ctx,
		core: core,
	}
}

// CreateWorkspace 创建工作区并初始化对应的向量集合
func (l *WorkspaceLogic) CreateWorkspace(name string) (*types.Workspace, error) {
	if name == "" {
		return nil, errors.New("WorkspaceLogic.CreateWorkspace.EmptyName", i18n.ERROR_INVALIDARGUMENT, nil).
			Code(http.StatusBadRequest).Kind(errors.KindValidation)
	}

	now := time.Now().Unix()
	workspace := types.Workspace{
		ID:         utils.GenRandomID(),
		Name:       name,
		Collection: "",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// 物理集合带版本后缀,检索统一走别名,未来重建向量时可以原子切换
	workspace.Collection = fmt.Sprintf("ws_%s_v1", workspace.ID)
	workspace.CollectionAlias = fmt.Sprintf("ws_%s", workspace.ID)

	if err := l.core.Srv().Vector().EnsureCollection(l.ctx, workspace.Collection, l.core.Srv().AI().VectorSize()); err != nil {
		return nil, errors.New("WorkspaceLogic.CreateWorkspace.EnsureCollection", i18n.ERROR_VECTOR_INDEX_UNAVAILABLE, err).
			Code(http.StatusBadGateway).Kind(errors.KindTransient)
	}
	if err := l.core.Srv().Vector().EnsureAlias(l.ctx, workspace.CollectionAlias, workspace.Collection); err != nil {
		return nil, errors.New("WorkspaceLogic.CreateWorkspace.EnsureAlias", i18n.ERROR_VECTOR_INDEX_UNAVAILABLE, err).
			Code(http.StatusBadGateway).Kind(errors.KindTransient)
	}

	if err := l.core.Store().WorkspaceStore().Create(l.ctx, workspace); err != nil {
		return nil, errors.New("WorkspaceLogic.CreateWorkspace.WorkspaceStore.Create", i18n.ERROR_INTERNAL, err)
	}
	return &workspace, nil
}

func (l *WorkspaceLogic) GetWorkspace(workspaceID string) (*types.Workspace, error) {
	workspace, err := l.core.Store().WorkspaceStore().Get(l.ctx, workspaceID)
	if err != nil {
		return nil, errors.New("WorkspaceLogic.GetWorkspace.WorkspaceStore.Get", i18n.ERROR_INTERNAL, err)
	}
	if workspace == nil {
		return nil, errors.New("WorkspaceLogic.GetWorkspace.NotFound", i18n.ERROR_WORKSPACE_NOT_FOUND, nil).
			Code(http.StatusNotFound)
	}
	return workspace, nil
}

func (l *WorkspaceLogic) ListWorkspaces(page, pageSize uint64) ([]types.Workspace, error) {
	list, err := l.core.Store().WorkspaceStore().List(l.ctx, page, pageSize)
	if err != nil {
		return nil, errors.New("WorkspaceLogic.ListWorkspaces.WorkspaceStore.List", i18n.ERROR_INTERNAL, err)
	}
	return list, nil
}

// DeleteWorkspace 删除工作区记录并移除向量集合,向量集合删除失败不阻塞主流程
func (l *WorkspaceLogic) DeleteWorkspace(workspaceID string) error {
	workspace, err := l.GetWorkspace(workspaceID)
	if err != nil {
		return errors.Trace("WorkspaceLogic.DeleteWorkspace", err)
	}

	if err = l.core.Store().WorkspaceStore().Delete(l.ctx, workspaceID); err != nil {
		return errors.New("WorkspaceLogic.DeleteWorkspace.WorkspaceStore.Delete", i18n.ERROR_INTERNAL, err)
	}

	if err = l.core.Srv().Vector().DeleteCollection(l.ctx, workspace.Collection); err != nil {
		return errors.New("WorkspaceLogic.DeleteWorkspace.DeleteCollection", i18n.ERROR_VECTOR_INDEX_UNAVAILABLE, err).
			Code(http.StatusBadGateway).Kind(errors.KindTransient)
	}
	return nil
}
