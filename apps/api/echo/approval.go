package echoapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kpsipet/pengaduan/core/complaint"
)

const pdfContentType = "application/pdf"

type approvalApi struct {
	svc      ComplaintService
	validate *validator.Validate
}

func registerApprovalAPI(g *echo.Group, svc ComplaintService, validate *validator.Validate) {
	api := approvalApi{svc: svc, validate: validate}

	ag := g.Group("/approvals")
	ag.POST("", api.approve)
	ag.GET("", api.query)
	ag.GET("/:id/letter", api.letter)

	g.GET("/templates", api.queryTemplates)
}

// Handlers

// approve approves a case on behalf of the authenticated administrator unless user_id is given.
// Delivery failures are reported in the response and do not fail the request.
func (api *approvalApi) approve(ctx echo.Context) error {
	var data complaint.ApproveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ApproveRequest")
	}
	if data.UserID == 0 {
		id, err := getContextUserID(ctx)
		if err != nil {
			return err
		}
		data.UserID = id
	}

	res, err := api.svc.Approve(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "approving case")
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *approvalApi) query(ctx echo.Context) error {
	apvs, err := api.svc.Approvals(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying approvals")
	}
	if apvs == nil {
		apvs = []complaint.ApprovalDetail{}
	}
	return ctx.JSON(http.StatusOK, apvs)
}

func (api *approvalApi) letter(ctx echo.Context) error {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return errHttpNotFound
	}
	filename, doc, err := api.svc.Letter(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "regenerating letter")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, pdfContentType, doc)
}

func (api *approvalApi) queryTemplates(ctx echo.Context) error {
	tmpls, err := api.svc.Templates(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	if tmpls == nil {
		tmpls = []complaint.Template{}
	}
	return ctx.JSON(http.StatusOK, tmpls)
}
