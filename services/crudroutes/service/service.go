// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package service assembles the crudroutes service from its environment configuration. It is
shared by the http server and the lambda function.
*/
package service

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/crudroutes/core/access"
	"github.com/relabs-tech/crudroutes/core/backend"
	"github.com/relabs-tech/crudroutes/core/csql"
	"github.com/relabs-tech/crudroutes/core/logger"
	"github.com/relabs-tech/crudroutes/core/notify"
	"github.com/relabs-tech/crudroutes/core/schema"
	"github.com/relabs-tech/crudroutes/core/store"
	"github.com/relabs-tech/crudroutes/core/store/badgerstore"
	"github.com/relabs-tech/crudroutes/core/store/dynamostore"
	"github.com/relabs-tech/crudroutes/core/store/memory"
	"github.com/relabs-tech/crudroutes/core/store/mongostore"
	"github.com/relabs-tech/crudroutes/core/store/postgres"
	"github.com/relabs-tech/crudroutes/core/store/s3store"
	"github.com/relabs-tech/crudroutes/core/store/sqlstore"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Configuration is the backend configuration of the service
var Configuration = `
{
	"collections": [
	  {
		"resource": "user",
		"description": "the users of the service",
		"schema_id": "https://crudroutes.relabs.tech/schemas/user.json",
		"notifications": true,
		"permits": [
		  {
			"role": "everybody",
			"operations": ["list", "read"]
		  },
		  {
			"role": "userrole",
			"operations": ["read", "update"],
			"selector": "user"
		  }
		]
	  }
	]
}
`

// Service holds the configuration for this service
//
// use e.g. DRIVER=postgres POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Driver           string `env:"DRIVER,default=memory" description:"the document store: memory, postgres, sqlite, mongo, dynamodb, badger or s3"`
	Store            string `env:"STORE,default=crudroutes" description:"the store name: postgres schema, mongo database, dynamodb table, key prefix"`
	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	SQLite           string `env:"SQLITE,default=file:crudroutes.db" description:"the sqlite data source name"`
	Mongo            string `env:"MONGO,optional" description:"the mongo connection uri"`
	BadgerPath       string `env:"BADGER_PATH,optional" description:"the badger directory, in-memory if empty"`
	AWSRegion        string `env:"AWS_REGION,default=eu-central-1" description:"the AWS region"`
	AWSAccessID      string `env:"AWS_ACCESS_ID,optional" description:"static AWS access key id, default credentials if empty"`
	AWSAccessKey     string `env:"AWS_ACCESS_KEY,optional" description:"static AWS secret access key"`
	AWSEndpoint      string `env:"AWS_ENDPOINT,optional" description:"endpoint override for local AWS emulators"`
	S3Bucket         string `env:"S3_BUCKET,optional" description:"the bucket for the s3 driver"`
	S3KeyPrefix      string `env:"S3_KEY_PREFIX,optional" description:"key prefix for the s3 driver"`
	SQSQueueURL      string `env:"SQS_QUEUE_URL,optional" description:"queue for change notifications, log only if empty"`
	Port             int    `env:"PORT,default=3000" description:"the listen port of the http server"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"the log level"`
	Authorization    bool   `env:"AUTHORIZATION,default=true" description:"guard the collections with their permits"`
	AdminToken       string `env:"ADMIN_TOKEN,optional" description:"static bearer token with admin role"`
	JWTSecret        string `env:"JWT_SECRET,optional" description:"HMAC secret of accepted bearer tokens"`
	JWTIssuer        string `env:"JWT_ISSUER,optional" description:"accepted issuer of bearer tokens"`
}

// FromEnvironment reads the service configuration from the environment
func FromEnvironment() (*Service, error) {
	s := &Service{}
	if err := envdecode.Decode(s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}
	return s, nil
}

// Router creates the driver and the router with all routes and middlewares. The returned
// function releases the driver's resources.
func (s *Service) Router(ctx context.Context) (*mux.Router, func(), error) {
	logger.InitLogger(logger.ParseLevel(s.LogLevel))

	var awsConfig *aws.Config
	awsConfigOnce := func() (aws.Config, error) {
		if awsConfig != nil {
			return *awsConfig, nil
		}
		cfg, err := s.awsConfig(ctx)
		if err != nil {
			return cfg, err
		}
		awsConfig = &cfg
		return cfg, nil
	}

	driver, closer, err := s.driver(ctx, awsConfigOnce)
	if err != nil {
		return nil, nil, err
	}

	notifier, err := s.notifier(awsConfigOnce)
	if err != nil {
		closer()
		return nil, nil, err
	}

	schemas, err := fs.Sub(schemaFiles, "schemas")
	if err != nil {
		closer()
		return nil, nil, err
	}
	validator, err := schema.NewValidatorFromFS(schemas)
	if err != nil {
		closer()
		return nil, nil, err
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	if s.AdminToken != "" {
		router.Use(access.NewBackdoorMiddleware(&access.BackdoorMiddlewareBuilder{
			Backdoors: map[string]access.Authorization{
				s.AdminToken: {Roles: []string{access.RoleAdmin}},
			},
		}))
	}
	if s.JWTSecret != "" {
		router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
			Secret: []byte(s.JWTSecret),
			Issuer: s.JWTIssuer,
		}))
	}

	_, err = backend.NewWithContext(ctx, &backend.Builder{
		Config:               Configuration,
		Driver:               driver,
		Store:                s.Store,
		Router:               router,
		Validator:            validator,
		Notifier:             notifier,
		AuthorizationEnabled: s.Authorization,
	})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return router, closer, nil
}

func (s *Service) driver(ctx context.Context, awsConfig func() (aws.Config, error)) (store.Driver, func(), error) {
	rlog := logger.FromContext(ctx)
	rlog.Infoln("document store:", s.Driver)
	noop := func() {}

	switch strings.ToLower(s.Driver) {
	case "memory":
		return memory.New(), noop, nil

	case "postgres":
		if s.Postgres == "" {
			return nil, nil, errors.New("POSTGRES is required for the postgres driver")
		}
		dsn := s.Postgres
		if s.PostgresPassword != "" {
			dsn += " password=" + s.PostgresPassword
		}
		db, err := csql.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(db), func() { db.Close() }, nil

	case "sqlite":
		driver, err := sqlstore.Open(s.SQLite)
		if err != nil {
			return nil, nil, err
		}
		return driver, noop, nil

	case "mongo":
		if s.Mongo == "" {
			return nil, nil, errors.New("MONGO is required for the mongo driver")
		}
		driver, client, err := mongostore.Connect(ctx, s.Mongo)
		if err != nil {
			return nil, nil, err
		}
		return driver, func() { client.Disconnect(context.Background()) }, nil

	case "dynamodb":
		cfg, err := awsConfig()
		if err != nil {
			return nil, nil, err
		}
		client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if s.AWSEndpoint != "" {
				o.EndpointResolver = dynamodb.EndpointResolverFromURL(s.AWSEndpoint)
			}
		})
		if err := dynamostore.EnsureTable(ctx, client, s.Store); err != nil {
			return nil, nil, err
		}
		return dynamostore.New(client), noop, nil

	case "badger":
		driver, err := badgerstore.Open(badgerstore.Options{Path: s.BadgerPath, Logger: logger.Default()})
		if err != nil {
			return nil, nil, err
		}
		return driver, func() { driver.Close() }, nil

	case "s3":
		cfg, err := awsConfig()
		if err != nil {
			return nil, nil, err
		}
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if s.AWSEndpoint != "" {
				o.EndpointResolver = s3.EndpointResolverFromURL(s.AWSEndpoint)
				o.UsePathStyle = true
			}
		})
		driver, err := s3store.New(client, s.S3Bucket, s.S3KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return driver, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown driver '%s'", s.Driver)
}

func (s *Service) notifier(awsConfig func() (aws.Config, error)) (notify.Notifier, error) {
	if s.SQSQueueURL == "" {
		return notify.LogNotifier{}, nil
	}
	cfg, err := awsConfig()
	if err != nil {
		return nil, err
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if s.AWSEndpoint != "" {
			o.EndpointResolver = sqs.EndpointResolverFromURL(s.AWSEndpoint)
		}
	})
	return notify.Multi(notify.LogNotifier{}, notify.NewSQSNotifier(client, s.SQSQueueURL)), nil
}

func (s *Service) awsConfig(ctx context.Context) (aws.Config, error) {
	options := []func(*config.LoadOptions) error{config.WithRegion(s.AWSRegion)}
	if s.AWSAccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AWSAccessID, s.AWSAccessKey, "")))
	}
	return config.LoadDefaultConfig(ctx, options...)
}
