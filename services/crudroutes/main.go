// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/relabs-tech/crudroutes/core/logger"
	"github.com/relabs-tech/crudroutes/services/crudroutes/service"
)

func main() {
	s, err := service.FromEnvironment()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, closer, err := s.Router(ctx)
	if err != nil {
		panic(err)
	}
	defer closer()

	rlog := logger.Default()
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(s.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	rlog.Infoln("listen on port", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rlog.WithError(err).Errorln("server failed")
	}
}
