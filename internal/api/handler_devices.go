package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// listDevicesHandler handles GET /api/devices.
func (s *Server) listDevicesHandler(c *echo.Context) error {
	limit := defaultPageLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be 1..500")
		}
		limit = n
	}

	devices, err := s.devices.List(c.Request().Context(), limit)
	if err != nil {
		return mapError(err)
	}
	items := make([]deviceDTO, len(devices))
	for i, d := range devices {
		items[i] = toDeviceDTO(d)
	}
	return c.JSON(http.StatusOK, page[deviceDTO]{Items: items})
}

// getDeviceHandler handles GET /api/devices/:id.
func (s *Server) getDeviceHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device id is required")
	}
	d, err := s.devices.GetByID(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toDeviceDTO(*d))
}
