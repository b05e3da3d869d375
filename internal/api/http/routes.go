package httpapi

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
	"github.com/RHEW-Laboratory/WU-Scraper/internal/scheduler"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, queue *scheduler.Queue) {
	v1 := app.Group("/api/v1")

	v1.Post("/harvests", func(c *fiber.Ctx) error {
		var body harvestBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		req, err := body.toRequest()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		job, err := queue.SubmitHarvest(req)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(job)
	})

	v1.Post("/resumes", func(c *fiber.Ctx) error {
		name, err := parseLogBody(c)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(queue.SubmitResume(name))
	})

	v1.Post("/gapfills", func(c *fiber.Ctx) error {
		name, err := parseLogBody(c)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(queue.SubmitGapFill(name))
	})

	v1.Get("/jobs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"pending": queue.Pending(),
			"jobs":    queue.List(),
		})
	})

	v1.Get("/jobs/:id", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid job id")
		}
		job, err := queue.Get(id)
		if err != nil {
			if errors.Is(err, scheduler.ErrJobNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "job not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load job")
		}
		return c.JSON(job)
	})
}

// harvestBody is the payload of POST /harvests.
type harvestBody struct {
	Station     string `json:"station" validate:"required,alphanum,max=12"`
	Start       string `json:"start" validate:"required,datetime=2006-01-02"`
	End         string `json:"end" validate:"required,datetime=2006-01-02"`
	SkipGapFill bool   `json:"skipGapFill"`
}

func (b harvestBody) toRequest() (history.Request, error) {
	start, err := history.ParseDate(b.Start)
	if err != nil {
		return history.Request{}, err
	}
	end, err := history.ParseDate(b.End)
	if err != nil {
		return history.Request{}, err
	}
	if end.Before(start) {
		return history.Request{}, errors.New("end must not precede start")
	}
	return history.Request{Station: b.Station, Start: start, End: end, SkipGapFill: b.SkipGapFill}, nil
}

// logBody names an existing log by its file name.
type logBody struct {
	Log string `json:"log" validate:"required"`
}

func parseLogBody(c *fiber.Ctx) (history.LogName, error) {
	var body logBody
	if err := c.BodyParser(&body); err != nil {
		return history.LogName{}, fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err := validate.Struct(body); err != nil {
		return history.LogName{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	name, err := history.ParseLogName(body.Log)
	if err != nil {
		return history.LogName{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return name, nil
}
