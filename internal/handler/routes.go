package handler

import "github.com/gin-gonic/gin"

// Routes bundles the handlers and guards mounted under the API prefix.
type Routes struct {
	Registrations *RegistrationHandler
	Topics        *TopicHandler
	Deposits      *DepositHandler
	Files         *FileHandler
	Admin         *AdminHandler

	Session  gin.HandlerFunc
	AdminKey gin.HandlerFunc
}

// Register mounts the API on the given group.
func (r Routes) Register(api gin.IRouter) {
	registrations := api.Group("/registrations")
	registrations.POST("", r.Registrations.Claim)
	registrations.POST("/login", r.Registrations.Login)
	registrations.POST("/resolve", r.Session, r.Registrations.Resolve)
	registrations.POST("/confirm", r.Session, r.Registrations.Confirm)

	api.GET("/topics", r.Topics.List)

	api.POST("/deposits", r.Deposits.Deposit)
	api.GET("/deposits/:topicId/artifact", r.AdminKey, r.Deposits.Artifact)
	api.GET("/files/:token", r.Files.Artifact)
	api.GET("/receipts/:token", r.Files.Receipt)

	admin := api.Group("/admin", r.AdminKey)
	admin.GET("/reconciliation", r.Admin.Reconciliation)
	admin.GET("/topics/export", r.Admin.ExportTopics)
	admin.POST("/cache/invalidate", r.Admin.InvalidateCache)
	admin.GET("/system", r.Admin.System)
}
