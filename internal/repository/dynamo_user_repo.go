package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hitoshi/authskeleton/internal/database"
	"github.com/hitoshi/authskeleton/internal/model"
)

// DynamoAPI はユーザーリポジトリが使うDynamoDB APIの部分集合。
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoUser はDynamoDB上のアイテム表現。時刻はRFC 3339文字列で保存される。
type dynamoUser struct {
	ID        string    `dynamodbav:"id"`
	Email     string    `dynamodbav:"email"`
	Name      string    `dynamodbav:"name"`
	Picture   string    `dynamodbav:"picture"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	LastLogin time.Time `dynamodbav:"last_login"`
}

func (d dynamoUser) toModel() *model.User {
	return &model.User{
		ID:        d.ID,
		Email:     d.Email,
		Name:      d.Name,
		Picture:   d.Picture,
		CreatedAt: d.CreatedAt.UTC(),
		LastLogin: d.LastLogin.UTC(),
	}
}

// DynamoUserRepo はDynamoDBを使用したユーザーリポジトリ。
// テーブルはidをハッシュキーとし、email-index GSIでメールアドレス検索を行う。
type DynamoUserRepo struct {
	client DynamoAPI
	table  string
}

// NewDynamoUserRepo はDynamoUserRepoを生成する。
func NewDynamoUserRepo(client DynamoAPI, table string) *DynamoUserRepo {
	return &DynamoUserRepo{client: client, table: table}
}

func (r *DynamoUserRepo) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		model.AttrID: &types.AttributeValueMemberS{Value: id},
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *DynamoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       r.key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return unmarshalUser(out.Item)
}

// FindByEmail はemail-index GSIを使ってユーザーを検索する。見つからない場合はnilを返す。
func (r *DynamoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	keyCond := expression.Key(model.AttrEmail).Equal(expression.Value(email))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(database.EmailIndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return unmarshalUser(out.Items[0])
}

// Create はユーザーをPutItemで作成する。
func (r *DynamoUserRepo) Create(ctx context.Context, user *model.User) (*model.User, error) {
	item, err := attributevalue.MarshalMap(dynamoUser{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Picture:   user.Picture,
		CreatedAt: user.CreatedAt.UTC(),
		LastLogin: user.LastLogin.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("failed to put user: %w", err)
	}
	return user, nil
}

// Update は指定された属性のみをSETするUpdateItemを発行し、更新後のユーザーを返す。
// 名前のエスケープとプレースホルダはexpressionビルダーに任せる。
// 変更内容が空の場合はUpdateItemを発行せず、現在のアイテムを読み出して返す。
func (r *DynamoUserRepo) Update(ctx context.Context, id string, changes model.UserChanges) (*model.User, error) {
	attrs := changes.Attributes()
	if len(attrs) == 0 {
		user, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, model.ErrUserNotFound
		}
		return user, nil
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if name == model.AttrID {
			return nil, fmt.Errorf("attribute %q is not updatable", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var update expression.UpdateBuilder
	for _, name := range names {
		update = update.Set(expression.Name(name), expression.Value(attrs[name]))
	}
	cond := expression.AttributeExists(expression.Name(model.AttrID))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build update expression: %w", err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       r.key(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return unmarshalUser(out.Attributes)
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *DynamoUserRepo) DeleteByID(ctx context.Context, id string) error {
	cond := expression.AttributeExists(expression.Name(model.AttrID))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.table),
		Key:                      r.key(id),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return model.ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// Ping はテーブルの存在を確認する。
func (r *DynamoUserRepo) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.table),
	})
	if err != nil {
		return fmt.Errorf("failed to describe table: %w", err)
	}
	return nil
}

func unmarshalUser(item map[string]types.AttributeValue) (*model.User, error) {
	var d dynamoUser
	if err := attributevalue.UnmarshalMap(item, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return d.toModel(), nil
}

// compile-time interface check
var _ UserStore = (*DynamoUserRepo)(nil)
