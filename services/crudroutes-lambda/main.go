// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/relabs-tech/crudroutes/core/lambdaproxy"
	"github.com/relabs-tech/crudroutes/services/crudroutes/service"
)

func main() {
	s, err := service.FromEnvironment()
	if err != nil {
		panic(err)
	}
	// the router lives as long as the lambda container
	router, _, err := s.Router(context.Background())
	if err != nil {
		panic(err)
	}
	lambda.Start(lambdaproxy.New(router).Handle)
}
