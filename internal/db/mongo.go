package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"snakeserver/internal/persist"
	"snakeserver/internal/session"
)

type clientDoc struct {
	ClientID   string  `bson:"clientId"`
	Color      string  `bson:"color"`
	X          float64 `bson:"x"`
	Y          float64 `bson:"y"`
	XDirection *int    `bson:"xdirection,omitempty"`
	YDirection *int    `bson:"ydirection,omitempty"`
}

type gameDoc struct {
	GameID  string      `bson:"gameId"`
	Clients []clientDoc `bson:"clients"`
}

type userDoc struct {
	Name     string  `bson:"name"`
	Password string  `bson:"password"`
	UserID   string  `bson:"userId"`
	Score    float64 `bson:"score"`
}

func toClientDocs(clients []session.Participant) []clientDoc {
	docs := make([]clientDoc, len(clients))
	for i, p := range clients {
		docs[i] = clientDoc{
			ClientID:   p.ClientID,
			Color:      p.Color.String(),
			X:          p.X,
			Y:          p.Y,
			XDirection: p.XDirection,
			YDirection: p.YDirection,
		}
	}
	return docs
}

// MongoStore keeps games and users in the "games" and "users" collections.
type MongoStore struct {
	client *mongo.Client
	games  *mongo.Collection
	users  *mongo.Collection
}

var _ persist.Sink = (*MongoStore)(nil)

func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	mdb := client.Database(database)
	s := &MongoStore{
		client: client,
		games:  mdb.Collection("games"),
		users:  mdb.Collection("users"),
	}

	_, err = s.games.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "gameId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn().Err(err).Msg("mongo: create gameId index")
	}

	log.Info().Str("database", database).Msg("connected to MongoDB")
	return s, nil
}

func (s *MongoStore) InsertGame(ctx context.Context, g session.GameSession) error {
	_, err := s.games.InsertOne(ctx, gameDoc{GameID: g.SessionID, Clients: toClientDocs(g.Clients)})
	return err
}

func (s *MongoStore) UpsertGame(ctx context.Context, g session.GameSession) error {
	filter := bson.M{"gameId": g.SessionID}
	update := bson.M{"$set": bson.M{"clients": toClientDocs(g.Clients)}}
	_, err := s.games.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) InsertUser(ctx context.Context, u persist.UserRecord) error {
	_, err := s.users.InsertOne(ctx, userDoc{
		Name:     u.Name,
		Password: u.Password,
		UserID:   u.UserID,
		Score:    u.Score,
	})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
