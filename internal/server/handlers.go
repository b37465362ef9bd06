package server

import (
	"context"
	"net/http"
	"time"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"
	"taskmanager/internal/tasks"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

func (api *TaskAPI) banner(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"message":   "Task Manager API",
		"version":   serviceVersion,
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (api *TaskAPI) healthCheck(ctx *gin.Context) {
	body := gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(api.started).Seconds(),
		"environment": api.cfg.Environment,
	}
	if api.health != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), healthTimeout)
		defer cancel()
		if err := api.health.Ping(pingCtx); err != nil {
			api.logger.WarnContext(ctx.Request.Context(), "health check failed", "error", err)
			body["status"] = "unhealthy"
			ctx.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	ctx.JSON(http.StatusOK, body)
}

func (api *TaskAPI) register(ctx *gin.Context) {
	var req models.RegisterRequest
	if err := api.bindJSON(ctx, &req); err != nil {
		api.respondError(ctx, err, "Internal server error")
		return
	}

	session, err := api.accounts.Register(ctx.Request.Context(), req)
	if err != nil {
		api.respondError(ctx, err, "Internal server error")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    session.User,
		"token":   session.Token,
	})
}

func (api *TaskAPI) login(ctx *gin.Context) {
	var req models.LoginRequest
	if err := api.bindJSON(ctx, &req); err != nil {
		api.respondError(ctx, err, "Internal server error")
		return
	}

	session, err := api.accounts.Login(ctx.Request.Context(), req)
	if err != nil {
		api.respondError(ctx, err, "Internal server error")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"user":    session.User,
		"token":   session.Token,
	})
}

func (api *TaskAPI) me(ctx *gin.Context) {
	user, err := api.accounts.Me(ctx.Request.Context(), ctx.GetString(ctxKeyUserID))
	if err != nil {
		api.respondError(ctx, err, "Internal server error")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": user})
}

func (api *TaskAPI) generateTasks(ctx *gin.Context) {
	var req models.GenerateTasksRequest
	if err := api.bindJSON(ctx, &req); err != nil {
		api.respondError(ctx, err, "Failed to generate tasks")
		return
	}

	suggestions, err := api.tasks.Suggest(ctx.Request.Context(), req.Topic)
	if err != nil {
		api.respondError(ctx, err, "Failed to generate tasks")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Tasks generated successfully",
		"tasks":   suggestions,
		"topic":   req.Topic,
	})
}

func (api *TaskAPI) createTask(ctx *gin.Context) {
	var req models.CreateTaskRequest
	if err := api.bindJSON(ctx, &req); err != nil {
		api.respondError(ctx, err, "Failed to create task")
		return
	}

	task, err := api.tasks.Create(ctx.Request.Context(), ctx.GetString(ctxKeyUserID), tasks.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Category:    req.Category,
	})
	if err != nil {
		api.respondError(ctx, err, "Failed to create task")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Task created successfully",
		"task":    task,
	})
}

// parseFilter reads the optional status and category query parameters.
// Empty values mean no filter.
func parseFilter(ctx *gin.Context) (models.TaskFilter, error) {
	var filter models.TaskFilter
	verr := &errors.ValidationError{}

	if raw := ctx.Query("status"); raw != "" {
		if st, err := models.ParseStatus(raw); err != nil {
			verr.Add("status", "must be one of pending, in_progress, completed")
		} else {
			filter.Status = &st
		}
	}
	if raw := ctx.Query("category"); raw != "" {
		if c, err := models.ParseCategory(raw); err != nil {
			verr.Add("category", "must be one of personal, work, education, health, other")
		} else {
			filter.Category = &c
		}
	}
	return filter, verr.Err()
}

func (api *TaskAPI) listTasks(ctx *gin.Context) {
	filter, err := parseFilter(ctx)
	if err != nil {
		api.respondError(ctx, err, "Failed to fetch tasks")
		return
	}

	list, err := api.tasks.List(ctx.Request.Context(), ctx.GetString(ctxKeyUserID), filter)
	if err != nil {
		api.respondError(ctx, err, "Failed to fetch tasks")
		return
	}
	if list == nil {
		list = []models.Task{}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"tasks": list,
		"total": len(list),
	})
}

func (api *TaskAPI) getStats(ctx *gin.Context) {
	stats, err := api.tasks.Stats(ctx.Request.Context(), ctx.GetString(ctxKeyUserID))
	if err != nil {
		api.respondError(ctx, err, "Failed to fetch statistics")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (api *TaskAPI) getTask(ctx *gin.Context) {
	task, err := api.tasks.Get(ctx.Request.Context(), ctx.GetString(ctxKeyUserID), ctx.Param("id"))
	if err != nil {
		api.respondError(ctx, err, "Failed to fetch task")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"task": task})
}

func (api *TaskAPI) updateTask(ctx *gin.Context) {
	var req models.UpdateTaskRequest
	if err := api.bindJSON(ctx, &req); err != nil {
		api.respondError(ctx, err, "Failed to update task")
		return
	}

	task, err := api.tasks.Update(ctx.Request.Context(), ctx.GetString(ctxKeyUserID), ctx.Param("id"), models.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Category:    req.Category,
		IsCompleted: req.IsCompleted,
	})
	if err != nil {
		api.respondError(ctx, err, "Failed to update task")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Task updated successfully",
		"task":    task,
	})
}

func (api *TaskAPI) updateTaskStatus(ctx *gin.Context) {
	var req models.UpdateStatusRequest
	if err := api.bindJSON(ctx, &req); err != nil {
		api.respondError(ctx, err, "Failed to update task status")
		return
	}
	if req.Status == nil {
		api.respondError(ctx, errors.Invalid("status", "is required"), "Failed to update task status")
		return
	}

	task, err := api.tasks.UpdateStatus(ctx.Request.Context(), ctx.GetString(ctxKeyUserID), ctx.Param("id"), *req.Status, req.IsCompleted)
	if err != nil {
		api.respondError(ctx, err, "Failed to update task status")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Task status updated successfully",
		"task":    task,
	})
}

func (api *TaskAPI) deleteTask(ctx *gin.Context) {
	task, err := api.tasks.Delete(ctx.Request.Context(), ctx.GetString(ctxKeyUserID), ctx.Param("id"))
	if err != nil {
		api.respondError(ctx, err, "Failed to delete task")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Task deleted successfully",
		"task":    task,
	})
}
