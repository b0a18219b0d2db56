package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	v1 "github.com/docgraph-ai/docgraph/app/logic/v1"
	"github.com/docgraph-ai/docgraph/app/response"
	"github.com/docgraph-ai/docgraph/pkg/errors"
	"github.com/docgraph-ai/docgraph/pkg/i18n"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

type UploadDocumentRequest struct {
	FileName string `json:"file_name" binding:"required,max=512"`
	Title    string `json:"title" binding:"max=512"`
	MimeType string `json:"mime_type" binding:"max=128"`
	Content  string `json:"content" binding:"required"`
}

// UploadDocument 支持 multipart 文件上传和 JSON 正文两种提交方式
func (s *HttpSrv) UploadDocument(c *gin.Context) {
	workspaceID, _ := c.Params.Get("workspaceid")

	args, err := parseUploadRequest(c)
	if err != nil {
		response.APIError(c, err)
		return
	}
	args.WorkspaceID = workspaceID

	result, err := v1.NewDocumentLogic(c, s.Core).UploadDocument(*args)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, result)
}

func parseUploadRequest(c *gin.Context) (*v1.UploadDocumentArgs, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return nil, errors.New("api.UploadDocument.FormFile", i18n.ERROR_INVALIDARGUMENT, err).
				Code(http.StatusBadRequest)
		}
		file, err := fileHeader.Open()
		if err != nil {
			return nil, errors.New("api.UploadDocument.Open", i18n.ERROR_INVALIDARGUMENT, err).
				Code(http.StatusBadRequest)
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			return nil, errors.New("api.UploadDocument.ReadAll", i18n.ERROR_INTERNAL, err)
		}
		return &v1.UploadDocumentArgs{
			FileName: fileHeader.Filename,
			Title:    c.PostForm("title"),
			MimeType: fileHeader.Header.Get("Content-Type"),
			Content:  content,
		}, nil
	}

	var req UploadDocumentRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		return nil, err
	}
	return &v1.UploadDocumentArgs{
		FileName: req.FileName,
		Title:    req.Title,
		MimeType: req.MimeType,
		Content:  []byte(req.Content),
	}, nil
}

func (s *HttpSrv) GetDocument(c *gin.Context) {
	workspaceID, _ := c.Params.Get("workspaceid")
	documentID, _ := c.Params.Get("documentid")

	document, err := v1.NewDocumentLogic(c, s.Core).GetDocument(workspaceID, documentID)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, document)
}

type ListDocumentsRequest struct {
	Page     uint64 `json:"page" form:"page"`
	PageSize uint64 `json:"pagesize" form:"pagesize"`
}

func (s *HttpSrv) ListDocuments(c *gin.Context) {
	var req ListDocumentsRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = types.DEFAULT_PAGE_SIZE
	}

	workspaceID, _ := c.Params.Get("workspaceid")
	list, total, err := v1.NewDocumentLogic(c, s.Core).ListDocuments(workspaceID, req.Page, req.PageSize)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, response.ListResult[types.DocumentWithTask]{
		List:  list,
		Total: total,
	})
}

func (s *HttpSrv) DeleteDocument(c *gin.Context) {
	workspaceID, _ := c.Params.Get("workspaceid")
	documentID, _ := c.Params.Get("documentid")

	if err := v1.NewDocumentLogic(c, s.Core).DeleteDocument(workspaceID, documentID); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}
