package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/yairfalse/allot/types"
)

type generateReportRequest struct {
	Period     string `json:"period"`
	ReportDate string `json:"reportDate"`
}

type reportIDsRequest struct {
	IDs []string `json:"ids"`
}

type toggleRequest struct {
	Active *bool `json:"active"`
}

type importRequest struct {
	Records []types.CostRecord `json:"records"`
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func (s *Server) allocate(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	resp := s.svc.Allocate(c.Request().Context(), tenant, c.QueryParam("from"), c.QueryParam("to"))
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) enforce(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	resp := s.svc.Enforce(c.Request().Context(), tenant)
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) events(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	since, err := parseSince(c.QueryParam("since"))
	if err != nil {
		return err
	}
	resp := s.svc.Events(c.Request().Context(), tenant, since)
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) listReports(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	resp := s.svc.ListReports(c.Request().Context(), tenant)
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) generateReport(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var req generateReportRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	resp := s.svc.GenerateReport(c.Request().Context(), tenant, req.Period, req.ReportDate)
	return respond(c, resp.Status, http.StatusCreated, resp)
}

func (s *Server) report(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	resp := s.svc.Report(c.Request().Context(), tenant, c.Param("id"))
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) deleteReports(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var req reportIDsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	resp := s.svc.DeleteReports(c.Request().Context(), tenant, req.IDs)
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) exportReports(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var req reportIDsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	resp := s.svc.ExportReports(c.Request().Context(), tenant, req.IDs)
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) listRules(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	resp := s.svc.ListRules(c.Request().Context(), tenant)
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) createRule(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var rule types.AllocationRule
	if err := bind(c, &rule); err != nil {
		return err
	}
	resp := s.svc.CreateRule(c.Request().Context(), tenant, rule)
	return respond(c, resp.Status, http.StatusCreated, resp)
}

func (s *Server) deleteRule(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	resp := s.svc.DeleteRule(c.Request().Context(), tenant, c.Param("id"))
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) listPolicies(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	resp := s.svc.ListPolicies(c.Request().Context(), tenant)
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) createPolicy(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var p types.GovernancePolicy
	if err := bind(c, &p); err != nil {
		return err
	}
	resp := s.svc.CreatePolicy(c.Request().Context(), tenant, p)
	return respond(c, resp.Status, http.StatusCreated, resp)
}

func (s *Server) togglePolicy(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var req toggleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	resp := s.svc.TogglePolicy(c.Request().Context(), tenant, c.Param("id"), *req.Active)
	return respond(c, resp.Status, http.StatusOK, resp)
}

func (s *Server) importRecords(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	var req importRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	resp := s.svc.ImportRecords(c.Request().Context(), tenant, req.Records)
	return respond(c, resp.Status, http.StatusCreated, resp)
}
