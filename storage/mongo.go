package storage

import (
	"context"
	"fmt"
	"regexp"

	"wikikv/configs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore keeps the replica records in MongoDB, one collection per
// record kind with the name as _id so upserts replace in place.
type MongoStore struct {
	ctx    context.Context
	client *mongo.Client
	users  *mongo.Collection
	pages  *mongo.Collection
}

type userDoc struct {
	Name  string `bson:"_id"`
	Admin bool   `bson:"admin"`
}

type pageDoc struct {
	Name    string `bson:"_id"`
	Content string `bson:"content"`
}

// NewMongoStore connects to url; node distinguishes databases when
// several replicas share one mongod in local tests.
func NewMongoStore(url, node string) (*MongoStore, error) {
	c := &MongoStore{ctx: context.Background()}
	var err error
	c.client, err = mongo.Connect(c.ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err = c.client.Ping(c.ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	db := c.client.Database("wikikv_" + sanitizeDBName(node))
	c.users = db.Collection("users")
	c.pages = db.Collection("pages")
	return c, nil
}

func sanitizeDBName(node string) string {
	return regexp.MustCompile(`[^a-zA-Z0-9]`).ReplaceAllString(node, "_")
}

func (c *MongoStore) UpsertUser(name string, admin bool) error {
	_, err := c.users.ReplaceOne(c.ctx, bson.M{"_id": name},
		userDoc{Name: name, Admin: admin}, options.Replace().SetUpsert(true))
	return err
}

func (c *MongoStore) UpsertPage(name string, content string) error {
	_, err := c.pages.ReplaceOne(c.ctx, bson.M{"_id": name},
		pageDoc{Name: name, Content: content}, options.Replace().SetUpsert(true))
	return err
}

func (c *MongoStore) GetUserByName(name string) (*User, bool) {
	var doc userDoc
	if err := c.users.FindOne(c.ctx, bson.M{"_id": name}).Decode(&doc); err != nil {
		return nil, false
	}
	return &User{Name: doc.Name, Admin: doc.Admin}, true
}

func (c *MongoStore) GetPage(name string) (*Page, bool) {
	var doc pageDoc
	if err := c.pages.FindOne(c.ctx, bson.M{"_id": name}).Decode(&doc); err != nil {
		return nil, false
	}
	return &Page{Name: doc.Name, Content: doc.Content}, true
}

func (c *MongoStore) ListUsers() []User {
	cur, err := c.users.Find(c.ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if !configs.Warn(err == nil, "list users query failed") {
		return nil
	}
	defer cur.Close(c.ctx)
	res := make([]User, 0)
	for cur.Next(c.ctx) {
		var doc userDoc
		if cur.Decode(&doc) == nil {
			res = append(res, User{Name: doc.Name, Admin: doc.Admin})
		}
	}
	return res
}

func (c *MongoStore) ListPages() []Page {
	return c.findPages(bson.M{})
}

func (c *MongoStore) SearchPages(substr string) []Page {
	return c.findPages(bson.M{"_id": primitive.Regex{Pattern: regexp.QuoteMeta(substr)}})
}

func (c *MongoStore) findPages(filter bson.M) []Page {
	cur, err := c.pages.Find(c.ctx, filter, options.Find().SetSort(bson.M{"_id": 1}))
	if !configs.Warn(err == nil, "page query failed") {
		return nil
	}
	defer cur.Close(c.ctx)
	res := make([]Page, 0)
	for cur.Next(c.ctx) {
		var doc pageDoc
		if cur.Decode(&doc) == nil {
			res = append(res, Page{Name: doc.Name, Content: doc.Content})
		}
	}
	return res
}

func (c *MongoStore) UserCount() int {
	n, err := c.users.CountDocuments(c.ctx, bson.M{})
	if !configs.Warn(err == nil, "user count query failed") {
		return 0
	}
	return int(n)
}

func (c *MongoStore) Close() error {
	return c.client.Disconnect(c.ctx)
}
