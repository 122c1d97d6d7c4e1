package app

import (
	"paper_test_backend/internal/config"
	"paper_test_backend/internal/middleware"
	"paper_test_backend/internal/model"
	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/monitoring"
	"paper_test_backend/pkg/security"

	"github.com/gin-gonic/gin"
)

// multipart 额外开销
const formOverhead int64 = 1 << 20

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		// 通用只读接口
		authGroup.GET("/tests", c.test.ListTests)
		authGroup.GET("/tests/:id", c.test.GetTest)
		authGroup.GET("/tasks", c.task.ListTasks)
		authGroup.GET("/tasks/:id", c.task.GetTask)

		// 学生接口
		a.registerStudentRoutes(authGroup, c)

		// 教师接口
		a.registerTeacherRoutes(authGroup, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers) {
	student := group.Group("")
	student.Use(middleware.RoleMiddleware(model.Student))
	{
		sessions := student.Group("/sessions")
		{
			sessions.POST("", c.session.Start)
			sessions.GET("/:id", c.session.Get)
			sessions.DELETE("/:id", c.session.Abandon)
			sessions.GET("/:id/answers", c.session.ListAnswers)
			sessions.PUT("/:id/answers/:q", security.MaxBodySize(util.MaxAnswerImageSize+formOverhead), c.session.SetAnswer)
			sessions.GET("/:id/answers/:q/preview", c.session.Preview)
			sessions.GET("/:id/document", c.session.Document)
			sessions.POST("/:id/document/next", c.session.NextPage)
			sessions.POST("/:id/document/prev", c.session.PrevPage)
			sessions.POST("/:id/document/page", c.session.GoToPage)
			sessions.POST("/:id/document/retry", c.session.RetryDocument)
			sessions.POST("/:id/finish", c.session.Finish)
			sessions.GET("/:id/ws", c.session.WS)
		}

		student.GET("/submissions/mine", c.submission.ListMine)
		student.POST("/tasks/:id/submit", security.MaxBodySize(util.MaxTaskAttachmentSize+formOverhead), c.task.SubmitTask)
		student.GET("/task-submissions/mine", c.task.ListMySubmissions)
	}

	// 学生删除自己的历史提交，教师也可删除
	group.DELETE("/submissions/:id", c.submission.DeleteSubmission)
}

func (a *App) registerTeacherRoutes(group *gin.RouterGroup, c *controllers) {
	teacher := group.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacher.POST("/tests", c.test.CreateTest)
		teacher.POST("/tests/:id/file", security.MaxBodySize(util.MaxTestFileSize+formOverhead), c.test.UploadTestFile)
		teacher.DELETE("/tests/:id", c.test.DeleteTest)
		teacher.GET("/tests/:id/submissions", c.submission.ListByTest)
		teacher.GET("/submissions/:id", c.submission.GetSubmission)
		teacher.POST("/submissions/:id/grade", c.submission.GradeSubmission)

		teacher.POST("/tasks", security.MaxBodySize(util.MaxTaskAttachmentSize+formOverhead), c.task.CreateTask)
		teacher.DELETE("/tasks/:id", c.task.DeleteTask)
		teacher.GET("/tasks/:id/submissions", c.task.ListSubmissions)
		teacher.POST("/task-submissions/:id/review", c.task.ReviewSubmission)
	}
}
