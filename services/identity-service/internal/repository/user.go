package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
)

var (
	// ErrUserNotFound is returned by every finder when no record matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail is returned by Create when the email is already taken.
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrConflict is returned by Save when the record changed since it was
	// read. The whole operation is safe to retry from the read.
	ErrConflict = errors.New("user record was modified concurrently")
)

// UserRepository defines the interface for user persistence. Save is a full
// replace guarded by the record version, so concurrent updates to the same
// user serialize: one writer wins, the other observes ErrConflict.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByVerificationToken(ctx context.Context, token string) (*model.User, error)
	GetUserByResetToken(ctx context.Context, token string) (*model.User, error)
	Save(ctx context.Context, user *model.User) (*model.User, error)
	ListUsers(ctx context.Context, params FilterUsersParams) ([]*model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// FilterUsersParams defines the parameters for filtering and paginating users.
type FilterUsersParams struct {
	Role     *model.Role
	Verified *bool
	Limit    int64
	Offset   int64
}

const userCollection = "users"

type userMongoRepository struct {
	db *mongo.Database
}

// NewUserMongoRepository creates the MongoDB-backed user repository and
// ensures the indexes the credential lifecycle depends on.
func NewUserMongoRepository(ctx context.Context, logger *zerolog.Logger, db *mongo.Database) UserRepository {
	collection := db.Collection(userCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "verification.token", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "reset.token", Value: 1}},
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Fatal().Err(err).Msg("failed to create user indexes")
	}

	return &userMongoRepository{db: db}
}

func (r *userMongoRepository) Create(ctx context.Context, user *model.User) (*model.User, error) {
	now := time.Now()
	user.Email = model.NormalizeEmail(user.Email)
	user.Version = 1
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := r.db.Collection(userCollection).InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	return user, nil
}

func (r *userMongoRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *userMongoRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"email": model.NormalizeEmail(email)})
}

func (r *userMongoRepository) GetUserByVerificationToken(ctx context.Context, token string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"verification.token": token})
}

func (r *userMongoRepository) GetUserByResetToken(ctx context.Context, token string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"reset.token": token})
}

func (r *userMongoRepository) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var user model.User
	err := r.db.Collection(userCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &user, nil
}

// Save replaces the whole record if and only if the stored version still
// matches the version the caller read. The version filter is what makes two
// racing read-modify-write sequences against one user resolve to one winner.
func (r *userMongoRepository) Save(ctx context.Context, user *model.User) (*model.User, error) {
	readVersion := user.Version
	user.Version = readVersion + 1
	user.UpdatedAt = time.Now()

	result, err := r.db.Collection(userCollection).ReplaceOne(
		ctx,
		bson.M{"_id": user.ID, "version": readVersion},
		user,
	)
	if err != nil {
		return nil, err
	}

	if result.MatchedCount == 0 {
		// Either the record is gone or another writer bumped the version.
		if _, err := r.GetUser(ctx, user.ID); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}

	return user, nil
}

func (r *userMongoRepository) ListUsers(ctx context.Context, params FilterUsersParams) ([]*model.User, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	if params.Limit > 0 {
		findOptions.SetLimit(params.Limit)
	}
	if params.Offset > 0 {
		findOptions.SetSkip(params.Offset)
	}

	filter := bson.M{}
	if params.Role != nil {
		filter["role"] = *params.Role
	}
	if params.Verified != nil {
		filter["email_verified"] = *params.Verified
	}

	cursor, err := r.db.Collection(userCollection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*model.User
	for cursor.Next(ctx) {
		var user model.User
		if err := cursor.Decode(&user); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (r *userMongoRepository) DeleteUser(ctx context.Context, id string) error {
	result, err := r.db.Collection(userCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}

	if result.DeletedCount == 0 {
		return ErrUserNotFound
	}

	return nil
}
