package internal

import (
	"context"
	"fmt"
	"log"
	"paycore/config"
	"paycore/entity"
	"paycore/services"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionLog           = "payment_log"
	collectionTransactions  = "payment_transactions"
	collectionSubscriptions = "subscriptions"
	collectionMembers       = "members"
)

type MongoDB struct {
	ctx              context.Context
	clientOptions    *options.ClientOptions
	database         string
	logRecordsNumber int64
	now              func() time.Time
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:              context.Background(),
		clientOptions:    clientOptions,
		database:         conf.Mongo.Database,
		logRecordsNumber: conf.LogRecords,
		now:              time.Now,
	}
	return client, nil
}

func (m *MongoDB) connect(ctx context.Context) (*mongo.Client, error) {
	connection, err := mongo.Connect(ctx, m.clientOptions)
	if err != nil {
		return nil, err
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	err := connection.Disconnect(m.ctx)
	if err != nil {
		log.Println("mongodb disconnect error", err)
	}
}

// EnsureIndexes creates the lookup indexes used by the store queries.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	database := connection.Database(m.database)
	indexes := map[string][]mongo.IndexModel{
		collectionTransactions: {
			{Keys: bson.D{{"order", 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{"subscription_id", 1}}},
		},
		collectionSubscriptions: {
			{Keys: bson.D{{"subscription_id", 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{"status", 1}, {"end_date", 1}}},
		},
		collectionMembers: {
			{Keys: bson.D{{"member_id", 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range indexes {
		if _, err = database.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (m *MongoDB) WriteLogMessage(data services.Data) error {
	connection, err := m.connect(m.ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionLog)
	if _, err = collection.InsertOne(m.ctx, data); err != nil {
		return err
	}
	if m.logRecordsNumber > 0 {
		return m.trimLog(collection)
	}
	return nil
}

// trimLog keeps only the newest logRecordsNumber messages.
func (m *MongoDB) trimLog(collection *mongo.Collection) error {
	opt := options.FindOne().SetSort(bson.D{{"time", -1}}).SetSkip(m.logRecordsNumber)
	var oldest entity.LogMessage
	err := collection.FindOne(m.ctx, bson.D{}, opt).Decode(&oldest)
	if err == mongo.ErrNoDocuments {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = collection.DeleteMany(m.ctx, bson.D{{"time", bson.D{{"$lte", oldest.Time}}}})
	return err
}

func (m *MongoDB) GetTransaction(ctx context.Context, order string) (*entity.PaymentTransaction, error) {
	connection, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{{"order", order}}
	collection := connection.Database(m.database).Collection(collectionTransactions)
	var transaction entity.PaymentTransaction
	if err = collection.FindOne(ctx, filter).Decode(&transaction); err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (m *MongoDB) InsertTransaction(ctx context.Context, transaction *entity.PaymentTransaction) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTransactions)
	_, err = collection.InsertOne(ctx, transaction)
	return err
}

// UpdateTransaction writes the outcome fields of a closed transaction.
func (m *MongoDB) UpdateTransaction(ctx context.Context, transaction *entity.PaymentTransaction) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTransactions)
	filter := bson.D{{"order", transaction.Order}}
	update := bson.D{
		{"$set", bson.D{
			{"status", transaction.Status},
			{"response_code", transaction.ResponseCode},
			{"error_code", transaction.ErrorCode},
			{"authorization_code", transaction.AuthorizationCode},
			{"subscription_id", transaction.SubscriptionId},
			{"updated_at", m.now()},
		}},
	}
	_, err = collection.UpdateOne(ctx, filter, update)
	return err
}

func (m *MongoDB) SaveRefund(ctx context.Context, order string, amount int, status, code string) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	now := m.now()
	collection := connection.Database(m.database).Collection(collectionTransactions)
	filter := bson.D{{"order", order}}
	update := bson.D{
		{"$set", bson.D{
			{"refund_amount", amount},
			{"refund_status", status},
			{"refund_code", code},
			{"refund_time", now},
			{"updated_at", now},
		}},
	}
	_, err = collection.UpdateOne(ctx, filter, update)
	return err
}

func (m *MongoDB) GetSubscription(ctx context.Context, id string) (*entity.Subscription, error) {
	connection, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{{"subscription_id", id}}
	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	var subscription entity.Subscription
	if err = collection.FindOne(ctx, filter).Decode(&subscription); err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (m *MongoDB) InsertSubscription(ctx context.Context, subscription *entity.Subscription) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	_, err = collection.InsertOne(ctx, subscription)
	return err
}

// DueSubscriptions returns chargeable subscriptions with an elapsed end date, oldest first.
func (m *MongoDB) DueSubscriptions(ctx context.Context, statuses []string, now time.Time, limit int) ([]*entity.Subscription, error) {
	filter := bson.D{
		{"status", bson.D{{"$in", statuses}}},
		{"end_date", bson.D{{"$lte", now}}},
		{"token", bson.D{{"$nin", bson.A{"", nil}}}},
		{"cof_tid", bson.D{{"$nin", bson.A{"", nil}}}},
	}
	return m.findSubscriptions(ctx, filter, limit)
}

func (m *MongoDB) ElapsedCanceledSubscriptions(ctx context.Context, now time.Time, limit int) ([]*entity.Subscription, error) {
	filter := bson.D{
		{"status", entity.SubscriptionCanceled},
		{"end_date", bson.D{{"$lte", now}}},
	}
	return m.findSubscriptions(ctx, filter, limit)
}

func (m *MongoDB) findSubscriptions(ctx context.Context, filter bson.D, limit int) ([]*entity.Subscription, error) {
	connection, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	opt := options.Find().SetSort(bson.D{{"end_date", 1}})
	if limit > 0 {
		opt.SetLimit(int64(limit))
	}
	cursor, err := collection.Find(ctx, filter, opt)
	if err != nil {
		return nil, err
	}
	var subscriptions []*entity.Subscription
	if err = cursor.All(ctx, &subscriptions); err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// UpdateSubscriptionRenewal records a successful renewal: new end date, failure
// counter reset and status back to active.
func (m *MongoDB) UpdateSubscriptionRenewal(ctx context.Context, id string, endDate time.Time, order, cofTid string) error {
	set := bson.D{
		{"status", entity.SubscriptionActive},
		{"end_date", endDate},
		{"renewal_failures", 0},
		{"last_order", order},
	}
	if cofTid != "" {
		set = append(set, bson.E{Key: "cof_tid", Value: cofTid})
	}
	return m.updateSubscription(ctx, id, set)
}

func (m *MongoDB) UpdateSubscriptionFailure(ctx context.Context, id string, failures int, status, order string) error {
	return m.updateSubscription(ctx, id, bson.D{
		{"status", status},
		{"renewal_failures", failures},
		{"last_order", order},
	})
}

func (m *MongoDB) UpdateSubscriptionStatus(ctx context.Context, id string, status string, cancelAtPeriodEnd bool) error {
	return m.updateSubscription(ctx, id, bson.D{
		{"status", status},
		{"cancel_at_period_end", cancelAtPeriodEnd},
	})
}

func (m *MongoDB) UpdateSubscriptionToken(ctx context.Context, id string, token, tokenExpiry, cofTid string) error {
	return m.updateSubscription(ctx, id, bson.D{
		{"token", token},
		{"token_expiry", tokenExpiry},
		{"cof_tid", cofTid},
	})
}

func (m *MongoDB) updateSubscription(ctx context.Context, id string, set bson.D) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	filter := bson.D{{"subscription_id", id}}
	set = append(set, bson.E{Key: "updated_at", Value: m.now()})
	result, err := collection.UpdateOne(ctx, filter, bson.D{{"$set", set}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("subscription %s: %w", id, mongo.ErrNoDocuments)
	}
	return nil
}

func (m *MongoDB) SetMembership(ctx context.Context, memberId string, isMember bool) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionMembers)
	filter := bson.D{{"member_id", memberId}}
	update := bson.D{
		{"$set", bson.D{
			{"is_member", isMember},
			{"updated_at", m.now()},
		}},
	}
	_, err = collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}
