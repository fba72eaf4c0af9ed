package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/middleware"
)

func NewRouter(
	accountHandlers *AccountHandlers,
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/accounts/v1").Subrouter()

	api.HandleFunc("/sms/send", accountHandlers.SendCode).Methods("POST", "OPTIONS")
	api.HandleFunc("/sms/confirm", accountHandlers.ConfirmCode).Methods("POST", "OPTIONS")
	api.HandleFunc("/sms/temp-password", accountHandlers.TempPassword).Methods("POST", "OPTIONS")
	api.HandleFunc("/password/change", accountHandlers.ChangePassword).Methods("POST", "OPTIONS")
	api.HandleFunc("/signup", accountHandlers.Signup).Methods("POST", "OPTIONS")

	api.HandleFunc("/token", authHandlers.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/token/refresh", authHandlers.RefreshToken).Methods("POST", "OPTIONS")
	api.HandleFunc("/token/verify", authHandlers.VerifyToken).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/user").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("", authHandlers.Profile).Methods("GET", "OPTIONS")

	return router
}
